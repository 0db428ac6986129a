package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/vgarvardt/gue/v5"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, *messages.Options) error
}

// Opts configures a gue work func
type Opts[TM any] struct {
	backoff    gue.Backoff
	timeout    time.Duration
	maxRetries int32
	// onGiveUp is called once the message will not be retried anymore
	onGiveUp func(context.Context, *TM, error) error
}

// Create helper func to wrapp gue worker main func.
// Transient errors reschedule the job with backoff, permanent errors and
// exhausted retries call the give up handler
func Create[TM any, SD any](data *SD, hf func(context.Context, *TM, *SD) error, opts *Opts[TM]) gue.WorkFunc {
	if opts == nil {
		goapp.Log.Panic().Msg("no opts provided")
	}
	return func(ctx context.Context, j *gue.Job) error {
		goapp.Log.Info().Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).Msg("got msg")

		var m TM
		err := json.Unmarshal(j.Args, &m)
		if err != nil {
			goapp.Log.Error().Err(err).Str("queue", j.Queue).Str("type", j.Type).Msg("could not unmarshal message, drop")
			return nil
		}
		wrkCtx, cf := context.WithTimeout(ctx, opts.timeout)
		defer cf()
		err = hf(wrkCtx, &m, data)
		if err == nil {
			return nil
		}
		goapp.Log.Warn().Err(err).Str("queue", j.Queue).Str("type", j.Type).Msg("fail")
		if !utils.IsPermanent(err) && j.ErrorCount < opts.maxRetries {
			delay := opts.backoff(int(j.ErrorCount + 1))
			goapp.Log.Info().Str("queue", j.Queue).Str("type", j.Type).Dur("after", delay).Msg("retry after")
			return gue.ErrRescheduleJobIn(delay, err.Error())
		}
		goapp.Log.Error().Err(err).Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).
			Msg("msg failed, will not retry")
		if opts.onGiveUp == nil {
			return nil
		}
		if errH := opts.onGiveUp(ctx, &m, err); errH != nil {
			goapp.Log.Error().Err(errH).Str("queue", j.Queue).Str("type", j.Type).Msg("give up handler failed")
			if j.ErrorCount < opts.maxRetries+giveUpRetries {
				return gue.ErrRescheduleJobIn(opts.backoff(int(j.ErrorCount+1)), errH.Error())
			}
		}
		return nil
	}
}

const (
	defaultMaxRetries = 5
	giveUpRetries     = 3
)

// DefaultOpts creates default opts: 15 min timeout, 5 retries
func DefaultOpts[TM any]() *Opts[TM] {
	return &Opts[TM]{timeout: time.Minute * 15, maxRetries: defaultMaxRetries, backoff: DefaultBackoff()}
}

// DefaultBackoff waits a random time up to 10s per retry
func DefaultBackoff() gue.Backoff {
	return func(retries int) time.Duration {
		return fullJitter(time.Duration(retries) * time.Second * 10)
	}
}

// NoBackoff reschedules immediately
func NoBackoff() gue.Backoff {
	return func(retries int) time.Duration {
		return 0
	}
}

// DefaultBackoffOrTest returns NoBackoff for tests, DefaultBackoff otherwise
func DefaultBackoffOrTest(test bool) gue.Backoff {
	if test {
		return NoBackoff()
	}
	return DefaultBackoff()
}

// WithGiveUp sets handler called when the message is not retried anymore
func (o *Opts[TM]) WithGiveUp(f func(context.Context, *TM, error) error) *Opts[TM] {
	o.onGiveUp = f
	return o
}

// WithTimeout sets the deadline of one handler run
func (o *Opts[TM]) WithTimeout(timeout time.Duration) *Opts[TM] {
	o.timeout = timeout
	return o
}

// WithBackoff sets the reschedule delay func
func (o *Opts[TM]) WithBackoff(b gue.Backoff) *Opts[TM] {
	o.backoff = b
	return o
}

// WithMaxRetries sets how many times a failed message is rescheduled
func (o *Opts[TM]) WithMaxRetries(n int) *Opts[TM] {
	o.maxRetries = int32(n)
	return o
}

// SendFailure returns give up handler that routes failed job message to the fail queue
func SendFailure[TM any](sender MsgSender, stage messages.Stage, id func(*TM) string) func(context.Context, *TM, error) error {
	return func(ctx context.Context, m *TM, err error) error {
		fm := &messages.FailMessage{QueueMessage: amessages.QueueMessage{ID: id(m)}, Stage: stage, Reason: err.Error()}
		if err := sender.SendMessage(ctx, fm, messages.WorkOpts(messages.TypeFail)); err != nil {
			return fmt.Errorf("can't send fail msg: %w", err)
		}
		return nil
	}
}

// fullJitter return randomized duration in interval [0, t)
// as suggested by https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
func fullJitter(t time.Duration) time.Duration {
	// `rand` here is used just for backoff jitter,
	return time.Duration(float64(t) * rand.Float64())
}
