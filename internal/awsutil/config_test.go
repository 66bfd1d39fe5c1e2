package awsutil

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithEndpoint(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg, err := Load(context.Background(), "eu-west-1", "http://localhost:4566")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	require.NotNil(t, cfg.EndpointResolverWithOptions)
	ep, err := cfg.EndpointResolverWithOptions.ResolveEndpoint("S3", "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, aws.Endpoint{URL: "http://localhost:4566", HostnameImmutable: true, PartitionID: "aws"}, ep)
}

func TestLoadDefault(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg, err := Load(context.Background(), "us-east-1", "")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Nil(t, cfg.EndpointResolverWithOptions)
}
