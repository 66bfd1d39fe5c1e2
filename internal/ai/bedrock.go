package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

// DefaultBedrockModel is the Bedrock model used for feedback
const DefaultBedrockModel = "us.amazon.nova-lite-v1:0"

// ConverseAPI is the part of the Bedrock runtime client used here
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock is a client for Amazon Bedrock's Converse API
type Bedrock struct {
	api   ConverseAPI
	model string
}

// NewBedrock creates a client from an AWS config
func NewBedrock(cfg aws.Config, model string) *Bedrock {
	return NewBedrockWithAPI(bedrockruntime.NewFromConfig(cfg), model)
}

// NewBedrockWithAPI wraps an existing Converse implementation
func NewBedrockWithAPI(api ConverseAPI, model string) *Bedrock {
	if model == "" {
		model = DefaultBedrockModel
	}
	return &Bedrock{api: api, model: model}
}

// Model returns the configured model id
func (b *Bedrock) Model() string { return b.model }

// Feedback asks the Bedrock model to correct a Japanese sentence
func (b *Bedrock) Feedback(ctx context.Context, text string) (string, error) {
	out, err := b.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
		}},
		System: []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: tutorPrompt}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(300),
			TopP:        aws.Float32(0.1),
			Temperature: aws.Float32(0.3),
		},
	})
	if err != nil {
		return "", classifyBedrock(err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("unexpected bedrock output %T", out.Output)
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(t.Value)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("bedrock returned no text content")
	}
	return strings.TrimSpace(sb.String()), nil
}

func classifyBedrock(err error) error {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return err
	}
	kind := KindFatal
	switch ae.ErrorCode() {
	case "ThrottlingException", "ServiceQuotaExceededException", "ServiceUnavailableException", "ModelNotReadyException",
		"InternalServerException", "ModelTimeoutException":
		kind = KindTransient
	case "AccessDeniedException", "ValidationException", "ResourceNotFoundException":
		kind = KindFatal
	default:
		// Unknown codes go through the message heuristic
		kind = Classify(errors.New(ae.ErrorMessage()))
	}
	return &ProviderError{Provider: ProviderBedrock, Kind: kind, Code: ae.ErrorCode(), Err: errors.New(ae.ErrorMessage())}
}
