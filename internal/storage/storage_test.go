package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutOpen(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir(), "https://kotoba.example/media/")
	require.NoError(t, err)

	ref, err := s.Put(ctx, "batch/job-1/input.csv", strings.NewReader("a,b\n"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "batch/job-1/input.csv", ref)

	rc, err := s.Open(ctx, ref)
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "a,b\n", string(b))

	u, err := s.URL(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "https://kotoba.example/media/batch/job-1/input.csv", u)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "")
	require.NoError(t, err)

	ref, err := s.Put(context.Background(), "../../etc/evil.csv", strings.NewReader("x"), "")
	require.NoError(t, err)
	assert.Equal(t, "etc/evil.csv", ref)

	p, err := s.path(ref)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, dir))
}

func TestLocalStoreURLWithoutBaseURL(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ref, err := s.Put(context.Background(), "batch/job-1/output.csv", strings.NewReader("x"), "")
	require.NoError(t, err)

	u, err := s.URL(context.Background(), ref)
	require.NoError(t, err)
	assert.Empty(t, u)
}

func TestLocalStoreMissing(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = s.Open(context.Background(), "nope.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

type fakePresigner struct {
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:          "https://bucket.s3.amazonaws.com/" + *params.Key + "?X-Amz-Signature=abc",
		Method:       http.MethodGet,
		SignedHeader: http.Header{},
	}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	api := &fakeS3{objects: map[string][]byte{}}
	pre := &fakePresigner{}
	s := NewS3StoreWithClient(api, pre, "kotoba", 10*time.Minute)

	ref, err := s.Put(ctx, "batch_out/job-1.xlsx", bytes.NewReader([]byte("xlsx")), "application/octet-stream")
	require.NoError(t, err)

	rc, err := s.Open(ctx, ref)
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "xlsx", string(b))

	u, err := s.URL(ctx, ref)
	require.NoError(t, err)
	assert.Contains(t, u, "batch_out/job-1.xlsx")
	assert.Equal(t, 10*time.Minute, pre.expires)

	_, err = s.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
