package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/reconcile"
	tapi "github.com/airenas/voxinsight/internal/pkg/transcriber/api"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/spf13/viper"
)

// Transcriber provides provider job status and transcript
type Transcriber interface {
	GetStatus(ctx context.Context, ID string) (*tapi.JobData, error)
	GetTranscript(ctx context.Context, ID string) (*tapi.Transcript, error)
}

// Applier moves job to a terminal status
type Applier interface {
	Complete(ctx context.Context, id, text string) (bool, error)
	Fail(ctx context.Context, id, reason string) (bool, error)
}

// Poller checks provider job status until it is terminal or attempts are exhausted
type Poller struct {
	transcriber Transcriber
	applier     Applier
	maxAttempts int
	delay       time.Duration
	wait        func(ctx context.Context, d time.Duration) error
}

const (
	defaultMaxAttempts = 30
	defaultDelay       = 10 * time.Second
)

// NewPoller creates poller
func NewPoller(tr Transcriber, applier Applier, maxAttempts int, delay time.Duration) (*Poller, error) {
	if tr == nil {
		return nil, fmt.Errorf("no transcriber")
	}
	if applier == nil {
		return nil, fmt.Errorf("no applier")
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("wrong max attempts %d", maxAttempts)
	}
	if delay < 0 {
		return nil, fmt.Errorf("wrong delay %v", delay)
	}
	return &Poller{transcriber: tr, applier: applier, maxAttempts: maxAttempts, delay: delay, wait: sleep}, nil
}

// NewFromConfig reads poll.maxAttempts and poll.delay
func NewFromConfig(tr Transcriber, applier Applier, cfg *viper.Viper) (*Poller, error) {
	attempts, delay := defaultMaxAttempts, defaultDelay
	if cfg != nil {
		if v := cfg.GetInt("poll.maxAttempts"); v != 0 {
			attempts = v
		}
		if v := cfg.GetDuration("poll.delay"); v != 0 {
			delay = v
		}
	}
	return NewPoller(tr, applier, attempts, delay)
}

// MaxWait is the upper bound of time spent sleeping in one Poll call
func (p *Poller) MaxWait() time.Duration {
	return time.Duration(p.maxAttempts-1) * p.delay
}

// Poll waits for the provider job extID to finish and applies the result to the job id.
// Provider API errors are returned as UpstreamError, exhausted attempts fail the job and
// return TimeoutError
func (p *Poller) Poll(ctx context.Context, id, extID string) error {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		d, err := p.transcriber.GetStatus(ctx, extID)
		if err != nil {
			if utils.KindOf(err) == 0 {
				err = utils.NewUpstreamErr(err)
			}
			return fmt.Errorf("can't get status: %w", err)
		}
		switch tapi.Classify(d.Status) {
		case tapi.Transcribed:
			return p.complete(ctx, id, extID)
		case tapi.Failed:
			goapp.Log.Info().Str("ID", id).Str("extID", extID).Str("reason", d.Reason()).Msg("transcription failed")
			_, err := p.applier.Fail(ctx, id, d.Reason())
			return err
		}
		goapp.Log.Debug().Str("ID", id).Str("extID", extID).Str("status", d.Status).Int("attempt", attempt).Msg("in progress")
		if attempt == p.maxAttempts {
			break
		}
		if err := p.wait(ctx, p.delay); err != nil {
			return fmt.Errorf("poll wait: %w", err)
		}
	}
	reason := fmt.Sprintf("transcription timeout after %d attempts", p.maxAttempts)
	goapp.Log.Warn().Str("ID", id).Str("extID", extID).Msg(reason)
	if _, err := p.applier.Fail(ctx, id, reason); err != nil {
		return err
	}
	return utils.NewTimeoutErr(errors.New(reason))
}

func (p *Poller) complete(ctx context.Context, id, extID string) error {
	text, err := reconcile.FetchText(ctx, p.transcriber, extID)
	if err != nil {
		goapp.Log.Error().Err(err).Str("ID", id).Str("extID", extID).Msg("transcript fetch failed")
		_, err = p.applier.Fail(ctx, id, err.Error())
		return err
	}
	_, err = p.applier.Complete(ctx, id, text)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
