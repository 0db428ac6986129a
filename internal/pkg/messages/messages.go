package messages

import (
	"strings"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
)

const (
	st = "VOX/"
	// Work queue name
	Work = st + "Work"
	// StatusChange queue name, consumed by status service to notify subscribers
	StatusChange = st + "StatusChange"

	typeSeparator = ":"
)

const (
	// TypeSubmit - send uploaded audio to transcription provider
	TypeSubmit = "wrk-submit"
	// TypePoll - poll provider for transcription status
	TypePoll = "wrk-poll"
	// TypeWebhook - reconcile provider notification
	TypeWebhook = "wrk-webhook"
	// TypeAnalyze - run analysis over transcript
	TypeAnalyze = "wrk-analyze"
	// TypeFail - final failure of a work message
	TypeFail = "wrk-fail"
)

// Stage names a job stage a failure belongs to
type Stage string

const (
	// StageTranscription - job status
	StageTranscription Stage = "transcription"
	// StageAnalysis - job analysis status
	StageAnalysis Stage = "analysis"
)

// JobMessage is a main message passing through the system, ID is a local job ID
type JobMessage struct {
	amessages.QueueMessage
}

// NewJobMessage creates job message
func NewJobMessage(ID string) *JobMessage {
	return &JobMessage{QueueMessage: amessages.QueueMessage{ID: ID}}
}

// WebhookMessage keeps provider notification, ID is a provider's job ID
type WebhookMessage struct {
	amessages.QueueMessage
	Status        string `json:"status"`
	Failure       string `json:"failure,omitempty"`
	FailureDetail string `json:"failureDetail,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
}

// FailMessage reports a work message that will not be retried anymore
type FailMessage struct {
	amessages.QueueMessage
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason,omitempty"`
}

// Options keeps message destination
type Options struct {
	Queue string
	Type  string
	RunAt time.Time
}

// DefaultOpts creates options from destination in form of "queue" or "queue:type".
// If no type is provided, the queue name is used as a type
func DefaultOpts(dest string) *Options {
	q, t, found := strings.Cut(dest, typeSeparator)
	if !found {
		t = q
	}
	return &Options{Queue: q, Type: t}
}

// WorkOpts creates options for a work queue message of type t
func WorkOpts(t string) *Options {
	return DefaultOpts(Work + typeSeparator + t)
}

// After delays message processing
func (o *Options) After(d time.Duration) *Options {
	o.RunAt = time.Now().Add(d)
	return o
}
