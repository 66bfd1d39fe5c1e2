package ai

import (
	"encoding/json"
	"strings"
)

// Correction is a single fix suggested by the tutor model
type Correction struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation"`
}

// Feedback is the structured answer expected from every provider
type Feedback struct {
	CorrectedText string       `json:"corrected_text"`
	Corrections   []Correction `json:"corrections"`
	Error         string       `json:"error,omitempty"`
	Raw           string       `json:"raw,omitempty"`
}

// ParseFeedback decodes a provider response. Models often wrap the JSON in
// prose or markdown fences, so when a direct decode fails the span between
// the first '{' and the last '}' is tried. If that fails too the original
// sentence is returned with the raw text attached and ok is false.
func ParseFeedback(raw, original string) (fb Feedback, ok bool) {
	if decodeFeedback(raw, &fb) {
		return fb, true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		fb = Feedback{}
		if decodeFeedback(raw[start:end+1], &fb) {
			return fb, true
		}
	}

	return Feedback{
		CorrectedText: original,
		Corrections:   []Correction{},
		Raw:           raw,
	}, false
}

func decodeFeedback(s string, fb *Feedback) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return false
	}
	if err := json.Unmarshal([]byte(s), fb); err != nil {
		return false
	}
	if fb.Corrections == nil {
		fb.Corrections = []Correction{}
	}
	return true
}

// JSON renders the feedback the way it is stored in the Explanation column
func (f Feedback) JSON() string {
	b, err := json.Marshal(f)
	if err != nil {
		return ""
	}
	return string(b)
}
