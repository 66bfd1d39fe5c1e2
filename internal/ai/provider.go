// Package ai talks to the LLM providers that grade Japanese sentences.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Provider names an LLM backend
type Provider string

const (
	ProviderOpenAI  Provider = "openai"
	ProviderGemini  Provider = "gemini"
	ProviderBedrock Provider = "bedrock"
)

// DefaultProvider is used when a request does not pick one
const DefaultProvider = ProviderGemini

// ErrUnsupportedProvider is returned for unknown or unconfigured providers
var ErrUnsupportedProvider = errors.New("unsupported LLM provider")

// ParseProvider normalizes a provider name
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOpenAI, ProviderGemini, ProviderBedrock:
		return p, nil
	case "":
		return DefaultProvider, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
	}
}

// Client returns raw feedback text for a Japanese sentence.
// The text is expected to be a JSON Feedback object but may be anything.
type Client interface {
	Feedback(ctx context.Context, text string) (string, error)
	Model() string
}

// Dispatcher routes feedback requests to the client registered for a provider
type Dispatcher struct {
	clients map[Provider]Client
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{clients: make(map[Provider]Client)}
}

// Register installs c as the client for p
func (d *Dispatcher) Register(p Provider, c Client) {
	d.clients[p] = c
}

// Providers lists the registered providers
func (d *Dispatcher) Providers() []Provider {
	out := make([]Provider, 0, len(d.clients))
	for _, p := range []Provider{ProviderOpenAI, ProviderGemini, ProviderBedrock} {
		if _, ok := d.clients[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Model returns the model name used for p, or "" if p is not registered
func (d *Dispatcher) Model(p Provider) string {
	if c, ok := d.clients[p]; ok {
		return c.Model()
	}
	return ""
}

// GetFeedback asks the provider's client for feedback on text.
// Fatal provider errors (auth, validation) are turned into a fallback
// payload carrying an "error" field so callers can keep going;
// transient and unexpected errors are returned.
func (d *Dispatcher) GetFeedback(ctx context.Context, text string, p Provider) (string, error) {
	c, ok := d.clients[p]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, p)
	}

	raw, err := c.Feedback(ctx, text)
	if err == nil {
		return raw, nil
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr.Kind == KindFatal {
		log.Printf("ai: %s rejected request (%s): %v", p, perr.Code, perr.Err)
		return fallbackPayload(text, perr.Message()), nil
	}
	return "", err
}

func fallbackPayload(text, message string) string {
	b, _ := json.Marshal(Feedback{
		CorrectedText: text,
		Corrections:   []Correction{},
		Error:         message,
	})
	return string(b)
}
