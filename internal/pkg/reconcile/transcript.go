package reconcile

import (
	"context"
	"fmt"

	tapi "github.com/airenas/voxinsight/internal/pkg/transcriber/api"
)

// TranscriptProvider returns structured transcript of a provider job
type TranscriptProvider interface {
	GetTranscript(ctx context.Context, ID string) (*tapi.Transcript, error)
}

// FetchText gets the transcript and flattens it to plain text
func FetchText(ctx context.Context, tp TranscriptProvider, extID string) (string, error) {
	tr, err := tp.GetTranscript(ctx, extID)
	if err != nil {
		return "", fmt.Errorf("can't get transcript: %w", err)
	}
	return tr.Flatten(), nil
}
