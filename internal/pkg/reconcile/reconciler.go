package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/retry"
	"github.com/airenas/voxinsight/internal/pkg/status"
	tapi "github.com/airenas/voxinsight/internal/pkg/transcriber/api"
	"github.com/airenas/voxinsight/internal/pkg/utils"
)

// DB provides job lookup for notifications
type DB interface {
	FindByExternalID(ctx context.Context, extID string) (*persistence.Job, error)
	FindByExternalIDFold(ctx context.Context, extID string) (*persistence.Job, error)
	FindLatestUnresolved(ctx context.Context, owner string) (*persistence.Job, error)
	BindExternalID(ctx context.Context, id, extID string) (bool, error)
}

// Reconciler binds provider notifications to jobs and applies them
type Reconciler struct {
	db          DB
	applier     *Applier
	transcripts TranscriptProvider
	retry       *retry.Executor
}

// NewReconciler creates reconciler
func NewReconciler(db DB, applier *Applier, tp TranscriptProvider, r *retry.Executor) (*Reconciler, error) {
	if db == nil {
		return nil, fmt.Errorf("no DB")
	}
	if applier == nil {
		return nil, fmt.Errorf("no applier")
	}
	if tp == nil {
		return nil, fmt.Errorf("no transcript provider")
	}
	if r == nil {
		return nil, fmt.Errorf("no retry executor")
	}
	return &Reconciler{db: db, applier: applier, transcripts: tp, retry: r}, nil
}

// Reconcile applies provider notification. Repeated delivery of the same notification is a no-op.
// Metadata of the notification is the owner ID passed on submission
func (r *Reconciler) Reconcile(ctx context.Context, n *tapi.JobData) error {
	if n == nil || strings.TrimSpace(n.ID) == "" {
		return utils.NewValidationErr(fmt.Errorf("no job id"))
	}
	if strings.TrimSpace(n.Status) == "" {
		return utils.NewValidationErr(fmt.Errorf("no status"))
	}
	job, err := r.find(ctx, n)
	if err != nil {
		return err
	}
	if status.From(job.Status).IsTerminal() {
		goapp.Log.Info().Str("ID", job.ID).Str("extID", n.ID).Str("status", job.Status).Msg("job already terminal, skip")
		return r.applier.EnsureAnalysis(ctx, job)
	}
	switch tapi.Classify(n.Status) {
	case tapi.Failed:
		_, err = r.applier.Fail(ctx, job.ID, n.Reason())
		return err
	case tapi.Transcribed:
		text, err := FetchText(ctx, r.transcripts, n.ID)
		if err != nil {
			goapp.Log.Error().Err(err).Str("ID", job.ID).Str("extID", n.ID).Msg("transcript fetch failed")
			_, err = r.applier.Fail(ctx, job.ID, err.Error())
			return err
		}
		_, err = r.applier.Complete(ctx, job.ID, text)
		return err
	}
	goapp.Log.Info().Str("ID", job.ID).Str("extID", n.ID).Str("status", n.Status).Msg("in progress")
	return nil
}

func (r *Reconciler) find(ctx context.Context, n *tapi.JobData) (*persistence.Job, error) {
	job, err := r.db.FindByExternalID(ctx, n.ID)
	if err != nil {
		return nil, utils.NewPersistenceErr(err)
	}
	if job != nil {
		return job, nil
	}
	job, err = r.db.FindByExternalIDFold(ctx, n.ID)
	if err != nil {
		return nil, utils.NewPersistenceErr(err)
	}
	if job != nil {
		goapp.Log.Info().Str("ID", job.ID).Str("extID", n.ID).Msg("found by case insensitive id")
		return job, nil
	}
	return r.bindFuzzy(ctx, n)
}

// bindFuzzy takes the latest unresolved job of the owner and stores the provider ID on it.
// This is a degraded mode: with several jobs in flight the binding may be wrong
func (r *Reconciler) bindFuzzy(ctx context.Context, n *tapi.JobData) (*persistence.Job, error) {
	owner := strings.TrimSpace(n.Metadata)
	if owner == "" {
		return nil, utils.NewNotFoundErr(fmt.Errorf("no job for external ID %s, no owner metadata", n.ID))
	}
	job, err := r.db.FindLatestUnresolved(ctx, owner)
	if err != nil {
		return nil, utils.NewPersistenceErr(err)
	}
	if job == nil {
		return nil, utils.NewNotFoundErr(fmt.Errorf("no job for external ID %s", n.ID))
	}
	bound, err := retry.Invoke(ctx, r.retry, "bind external ID", func() (bool, error) {
		res, err := r.db.BindExternalID(ctx, job.ID, n.ID)
		if err != nil {
			return false, utils.NewPersistenceErr(err)
		}
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("can't bind: %w", err)
	}
	goapp.Log.Warn().Str("ID", job.ID).Str("extID", n.ID).Str("oldExtID", utils.FromSQLStr(job.ExternalID)).
		Str("owner", owner).Bool("bound", bound).Msg("fuzzy binding")
	if !bound {
		// became terminal after lookup, the status guard makes the rest a no-op
		return job, nil
	}
	job.ExternalID = utils.ToSQLStr(n.ID)
	return job, nil
}
