package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultGeminiModel is the Gemini model used for feedback
const DefaultGeminiModel = "gemini-2.5-flash-lite"

// Gemini is a client for the Google Generative Language REST API
type Gemini struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewGemini creates a new Gemini client
func NewGemini(apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Model returns the configured model name
func (g *Gemini) Model() string { return g.model }

// Feedback asks Gemini to correct a Japanese sentence
func (g *Gemini) Feedback(ctx context.Context, text string) (string, error) {
	prompt := tutorPrompt + "\n\nJapanese text: " + text
	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var response geminiResponse
	decodeErr := json.Unmarshal(body, &response)

	if resp.StatusCode != http.StatusOK || (decodeErr == nil && response.Error != nil) {
		kind := kindForStatus(resp.StatusCode)
		code := strconv.Itoa(resp.StatusCode)
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && response.Error != nil {
			msg = response.Error.Message
			if response.Error.Status == "RESOURCE_EXHAUSTED" {
				kind = KindTransient
			}
			if response.Error.Status != "" {
				code = response.Error.Status
			}
		}
		return "", &ProviderError{Provider: ProviderGemini, Kind: kind, Code: code, Err: fmt.Errorf("%s", msg)}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}

	var sb strings.Builder
	for _, p := range response.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}
