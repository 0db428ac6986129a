package reconcile

import (
	"context"
	"fmt"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/retry"
	"github.com/airenas/voxinsight/internal/pkg/status"
	"github.com/airenas/voxinsight/internal/pkg/utils"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, *messages.Options) error
}

// StatusDB provides terminal status persistence
type StatusDB interface {
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	ApplyStatus(ctx context.Context, id string, st status.Status, text, errStr string) (bool, error)
}

// Applier is the only place moving a job to a terminal status.
// Both webhook and polling paths go through it
type Applier struct {
	db     StatusDB
	sender MsgSender
	retry  *retry.Executor
}

// NewApplier creates applier
func NewApplier(db StatusDB, sender MsgSender, r *retry.Executor) (*Applier, error) {
	if db == nil {
		return nil, fmt.Errorf("no DB")
	}
	if sender == nil {
		return nil, fmt.Errorf("no msg sender")
	}
	if r == nil {
		return nil, fmt.Errorf("no retry executor")
	}
	return &Applier{db: db, sender: sender, retry: r}, nil
}

// Complete moves job to completed with transcript text.
// Returns false if the job was already terminal
func (a *Applier) Complete(ctx context.Context, id, text string) (bool, error) {
	return a.apply(ctx, id, status.Completed, text, "")
}

// Fail moves job to error with the reason.
// Returns false if the job was already terminal
func (a *Applier) Fail(ctx context.Context, id, reason string) (bool, error) {
	if reason == "" {
		reason = "unknown error"
	}
	return a.apply(ctx, id, status.Error, "", reason)
}

func (a *Applier) apply(ctx context.Context, id string, st status.Status, text, errStr string) (bool, error) {
	applied, err := retry.Invoke(ctx, a.retry, "apply status", func() (bool, error) {
		res, err := a.db.ApplyStatus(ctx, id, st, text, errStr)
		if err != nil {
			return false, utils.NewPersistenceErr(err)
		}
		return res, nil
	})
	if err != nil {
		return false, fmt.Errorf("can't apply status %s: %w", st.String(), err)
	}
	if !applied {
		goapp.Log.Info().Str("ID", id).Str("status", st.String()).Msg("job already terminal, skip")
		job, err := a.db.LoadJob(ctx, id)
		if err != nil {
			return false, utils.NewPersistenceErr(fmt.Errorf("can't load job: %w", err))
		}
		if job == nil {
			return false, utils.NewNotFoundErr(fmt.Errorf("no job %s", id))
		}
		return false, a.EnsureAnalysis(ctx, job)
	}
	goapp.Log.Info().Str("ID", id).Str("status", st.String()).Msg("status applied")
	if err := a.send(ctx, id, messages.DefaultOpts(messages.StatusChange)); err != nil {
		return true, err
	}
	if st == status.Completed {
		if err := a.send(ctx, id, messages.WorkOpts(messages.TypeAnalyze)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// EnsureAnalysis enqueues analysis for a completed job which analysis has not started.
// Duplicate analysis messages are harmless: only one can start the analysis
func (a *Applier) EnsureAnalysis(ctx context.Context, job *persistence.Job) error {
	if status.From(job.Status) != status.Completed || status.AnalysisFrom(job.AnalysisStatus) != status.AnalysisPending {
		return nil
	}
	goapp.Log.Info().Str("ID", job.ID).Msg("analysis pending, enqueue")
	return a.send(ctx, job.ID, messages.WorkOpts(messages.TypeAnalyze))
}

func (a *Applier) send(ctx context.Context, id string, opts *messages.Options) error {
	return a.retry.Do(ctx, "send "+opts.Type, func() error {
		if err := a.sender.SendMessage(ctx, messages.NewJobMessage(id), opts); err != nil {
			return utils.NewPersistenceErr(err)
		}
		return nil
	})
}
