package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeedbackPlainJSON(t *testing.T) {
	raw := `{"corrected_text":"水を飲みました。","corrections":[{"original":"水は飲みました。","corrected":"水を飲みました。","explanation":"object particle"}]}`

	fb, ok := ParseFeedback(raw, "水は飲みました。")
	require.True(t, ok)
	assert.Equal(t, "水を飲みました。", fb.CorrectedText)
	require.Len(t, fb.Corrections, 1)
	assert.Equal(t, "object particle", fb.Corrections[0].Explanation)
	assert.Empty(t, fb.Error)
}

func TestParseFeedbackWrappedInProse(t *testing.T) {
	raw := "Sure! Here you go:\n```json\n{\"corrected_text\": \"猫がいます。\", \"corrections\": []}\n```"

	fb, ok := ParseFeedback(raw, "猫がいる。")
	require.True(t, ok)
	assert.Equal(t, "猫がいます。", fb.CorrectedText)
	assert.NotNil(t, fb.Corrections)
}

func TestParseFeedbackErrorPayload(t *testing.T) {
	fb, ok := ParseFeedback(`{"corrected_text":"x","corrections":[],"error":"Access denied"}`, "x")
	require.True(t, ok)
	assert.Equal(t, "Access denied", fb.Error)
}

func TestParseFeedbackMalformed(t *testing.T) {
	for _, raw := range []string{"I cannot help with that.", "{not json}", ""} {
		fb, ok := ParseFeedback(raw, "元の文")
		assert.False(t, ok, raw)
		assert.Equal(t, "元の文", fb.CorrectedText)
		assert.Equal(t, raw, fb.Raw)
		assert.Empty(t, fb.Corrections)
	}
}

func TestFeedbackJSONRoundTrip(t *testing.T) {
	fb := Feedback{CorrectedText: "はい", Corrections: []Correction{}}
	var back Feedback
	require.NoError(t, json.Unmarshal([]byte(fb.JSON()), &back))
	assert.Equal(t, fb.CorrectedText, back.CorrectedText)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{errors.New("429 Too Many Requests"), KindTransient},
		{errors.New("You exceeded your current quota"), KindTransient},
		{errors.New("ThrottlingException: slow down"), KindTransient},
		{errors.New("on-demand throughput isn't supported"), KindTransient},
		{errors.New("Rate limit reached for gpt-4o-mini"), KindTransient},
		{errors.New("invalid api key"), KindFatal},
		{&ProviderError{Provider: ProviderGemini, Kind: KindTransient, Code: "RESOURCE_EXHAUSTED", Err: errors.New("x")}, KindTransient},
		{fmt.Errorf("wrapped: %w", &ProviderError{Kind: KindFatal, Err: errors.New("quota")}), KindFatal},
		{nil, KindFatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" Gemini ")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, p)

	p, err = ParseProvider("")
	require.NoError(t, err)
	assert.Equal(t, DefaultProvider, p)

	_, err = ParseProvider("claude")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}
