package api

import "strings"

// SubmitData keeps structure for submit method
type SubmitData struct {
	MediaURL    string `json:"media_url"`
	CallbackURL string `json:"callback_url,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

// JobData keeps structure for job status method and webhook payload
type JobData struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Failure       string `json:"failure,omitempty"`
	FailureDetail string `json:"failure_detail,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
}

// Reason returns failure description
func (d *JobData) Reason() string {
	if d.FailureDetail != "" && d.Failure != "" {
		return d.Failure + ": " + d.FailureDetail
	}
	if d.FailureDetail != "" {
		return d.FailureDetail
	}
	if d.Failure != "" {
		return d.Failure
	}
	return "transcription failed"
}

// Transcript is a nested transcript structure of speaker segments
type Transcript struct {
	Monologues []Monologue `json:"monologues"`
}

// Monologue is one speaker segment
type Monologue struct {
	Speaker  int       `json:"speaker"`
	Elements []Element `json:"elements"`
}

// Element is an ordered text element of a segment
type Element struct {
	Type  string  `json:"type"`
	Value string  `json:"value"`
	Ts    float64 `json:"ts,omitempty"`
	EndTs float64 `json:"end_ts,omitempty"`
}

// Flatten concatenates element values of all segments in document order joined by single spaces
func (t *Transcript) Flatten() string {
	if t == nil {
		return ""
	}
	values := []string{}
	for _, m := range t.Monologues {
		for _, e := range m.Elements {
			values = append(values, e.Value)
		}
	}
	return strings.TrimSpace(strings.Join(values, " "))
}

// Phase classifies provider job status
type Phase int

const (
	// InProgress - provider is still working
	InProgress Phase = iota
	// Transcribed - terminal success
	Transcribed
	// Failed - terminal failure
	Failed
)

// Classify maps provider status value to phase, unknown values are treated as in progress
func Classify(st string) Phase {
	switch strings.ToLower(strings.TrimSpace(st)) {
	case "transcribed", "completed":
		return Transcribed
	case "failed", "error":
		return Failed
	}
	return InProgress
}
