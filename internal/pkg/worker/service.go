package worker

import (
	"context"
	"fmt"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/retry"
	"github.com/airenas/voxinsight/internal/pkg/status"
	tapi "github.com/airenas/voxinsight/internal/pkg/transcriber/api"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/airenas/voxinsight/internal/pkg/utils/handler"
	"github.com/vgarvardt/gue/v5"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, *messages.Options) error
}

// DB provides persistence functionality
type DB interface {
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	StartAnalysis(ctx context.Context, id string) (bool, error)
	FinishAnalysis(ctx context.Context, id string, st status.AnalysisStatus, data *persistence.AnalysisData, errStr string) (bool, error)
}

// Submitter sends job audio to the provider
type Submitter interface {
	Send(ctx context.Context, id string) error
}

// Poller waits for provider's terminal status
type Poller interface {
	Poll(ctx context.Context, id, extID string) error
	MaxWait() time.Duration
}

// Reconciler applies provider notifications
type Reconciler interface {
	Reconcile(ctx context.Context, n *tapi.JobData) error
}

// Analyzer produces structured analysis of a transcript
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*persistence.AnalysisData, error)
}

// Applier moves job to a terminal status
type Applier interface {
	Fail(ctx context.Context, id, reason string) (bool, error)
}

// ServiceData keeps data required for service work
type ServiceData struct {
	GueClient   *gue.Client
	WorkerCount int
	MsgSender   MsgSender
	DB          DB
	Submitter   Submitter
	Poller      Poller
	Reconciler  Reconciler
	Analyzer    Analyzer
	Applier     Applier
	Retry       *retry.Executor
	// AnalyzeTimeout bounds the whole analysis of one job
	AnalyzeTimeout time.Duration
	Testing        bool
}

// StartWorkerService starts the event queue listener service to listen for events
// returns channel for tracking if all jobs are finished
func StartWorkerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Int("workers", data.WorkerCount).Msg("Starting listen for messages")
	if data.Testing {
		goapp.Log.Warn().Msg("SERVICE IN TEST MODE")
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, workMap(data), data.WorkerCount,
		gue.WithPoolQueue(messages.Work),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("vox-worker"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	res := make(chan struct{}, 1)
	go func() {
		goapp.Log.Info().Msg("Starting workers")
		if err := pool.Run(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("pool error")
		}
		goapp.Log.Info().Msg("Pool workers finished")
		res <- struct{}{}
	}()
	return res, nil
}

func workMap(data *ServiceData) gue.WorkMap {
	bo := handler.DefaultBackoffOrTest(data.Testing)
	return gue.WorkMap{
		messages.TypeSubmit: handler.Create(data, handleSubmit, handler.DefaultOpts[messages.JobMessage]().
			WithTimeout(time.Minute*5).WithBackoff(bo).
			WithGiveUp(handler.SendFailure(data.MsgSender, messages.StageTranscription, jobID))),
		messages.TypePoll: handler.Create(data, handlePoll, handler.DefaultOpts[messages.JobMessage]().
			WithTimeout(data.Poller.MaxWait()+time.Minute*5).WithBackoff(bo).
			WithGiveUp(handler.SendFailure(data.MsgSender, messages.StageTranscription, jobID))),
		messages.TypeWebhook: handler.Create(data, handleWebhook, handler.DefaultOpts[messages.WebhookMessage]().
			WithTimeout(time.Minute*5).WithBackoff(bo)),
		messages.TypeAnalyze: handler.Create(data, handleAnalyze, handler.DefaultOpts[messages.JobMessage]().
			WithTimeout(data.AnalyzeTimeout+time.Minute*2).WithBackoff(bo).
			WithGiveUp(handler.SendFailure(data.MsgSender, messages.StageAnalysis, jobID))),
		messages.TypeFail: handler.Create(data, handleFailure, handler.DefaultOpts[messages.FailMessage]().
			WithTimeout(time.Minute).WithBackoff(bo)),
	}
}

func jobID(m *messages.JobMessage) string {
	return m.ID
}

func handleSubmit(ctx context.Context, m *messages.JobMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling submit")
	return data.Submitter.Send(ctx, m.ID)
}

func handlePoll(ctx context.Context, m *messages.JobMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling poll")
	job, err := loadJob(ctx, m.ID, data)
	if err != nil {
		return err
	}
	if status.From(job.Status).IsTerminal() {
		goapp.Log.Info().Str("ID", m.ID).Str("status", job.Status).Msg("job terminal, skip poll")
		return nil
	}
	if !job.ExternalID.Valid {
		return utils.NewValidationErr(fmt.Errorf("job %s not submitted", m.ID))
	}
	return data.Poller.Poll(ctx, job.ID, job.ExternalID.String)
}

func handleWebhook(ctx context.Context, m *messages.WebhookMessage, data *ServiceData) error {
	goapp.Log.Info().Str("extID", m.ID).Str("status", m.Status).Msg("handling webhook")
	return data.Reconciler.Reconcile(ctx, &tapi.JobData{ID: m.ID, Status: m.Status, Failure: m.Failure,
		FailureDetail: m.FailureDetail, Metadata: m.Metadata})
}

func handleAnalyze(ctx context.Context, m *messages.JobMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling analyze")
	job, err := loadJob(ctx, m.ID, data)
	if err != nil {
		return err
	}
	if status.From(job.Status) != status.Completed {
		goapp.Log.Warn().Str("ID", m.ID).Str("status", job.Status).Msg("transcription not completed, skip analysis")
		return nil
	}
	started, err := retry.Invoke(ctx, data.Retry, "start analysis", func() (bool, error) {
		res, err := data.DB.StartAnalysis(ctx, m.ID)
		if err != nil {
			return false, utils.NewPersistenceErr(err)
		}
		return res, nil
	})
	if err != nil {
		return fmt.Errorf("can't start analysis: %w", err)
	}
	if !started {
		goapp.Log.Info().Str("ID", m.ID).Str("analysisStatus", job.AnalysisStatus).Msg("analysis already started, skip")
		return nil
	}

	actx, cf := context.WithTimeout(ctx, data.AnalyzeTimeout)
	defer cf()
	res, err := data.Analyzer.Analyze(actx, utils.FromSQLStr(job.TranscriptionText))
	st, errStr := status.AnalysisCompleted, ""
	if err != nil {
		goapp.Log.Error().Err(err).Str("ID", m.ID).Msg("analysis failed")
		st, errStr, res = status.AnalysisError, err.Error(), nil
	}
	applied, err := saveAnalysis(ctx, m.ID, st, res, errStr, data)
	if err != nil {
		// a redelivered message loses the start CAS, only the fail route can end the stage now
		return utils.NewFinalErr(err)
	}
	if !applied {
		return nil
	}
	return sendStatusChange(ctx, m.ID, data)
}

func handleFailure(ctx context.Context, m *messages.FailMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Str("stage", string(m.Stage)).Msg("handling failure")
	reason := m.Reason
	if reason == "" {
		reason = "processing failed"
	}
	switch m.Stage {
	case messages.StageAnalysis:
		return finishAnalysis(ctx, m.ID, status.AnalysisError, nil, reason, data)
	case messages.StageTranscription:
		_, err := data.Applier.Fail(ctx, m.ID, reason)
		return err
	}
	goapp.Log.Error().Str("ID", m.ID).Str("stage", string(m.Stage)).Msg("unknown stage")
	return nil
}

func finishAnalysis(ctx context.Context, id string, st status.AnalysisStatus, res *persistence.AnalysisData, errStr string,
	data *ServiceData) error {
	applied, err := saveAnalysis(ctx, id, st, res, errStr, data)
	if err != nil || !applied {
		return err
	}
	return sendStatusChange(ctx, id, data)
}

func saveAnalysis(ctx context.Context, id string, st status.AnalysisStatus, res *persistence.AnalysisData, errStr string,
	data *ServiceData) (bool, error) {
	applied, err := retry.Invoke(ctx, data.Retry, "finish analysis", func() (bool, error) {
		ok, err := data.DB.FinishAnalysis(ctx, id, st, res, errStr)
		if err != nil {
			return false, utils.NewPersistenceErr(err)
		}
		return ok, nil
	})
	if err != nil {
		return false, fmt.Errorf("can't save analysis: %w", err)
	}
	if !applied {
		goapp.Log.Info().Str("ID", id).Msg("analysis not in processing, skip")
		return false, nil
	}
	goapp.Log.Info().Str("ID", id).Str("analysisStatus", st.String()).Msg("analysis finished")
	return true, nil
}

func sendStatusChange(ctx context.Context, id string, data *ServiceData) error {
	return data.Retry.Do(ctx, "send status change", func() error {
		if err := data.MsgSender.SendMessage(ctx, messages.NewJobMessage(id), messages.DefaultOpts(messages.StatusChange)); err != nil {
			return utils.NewPersistenceErr(err)
		}
		return nil
	})
}

func loadJob(ctx context.Context, id string, data *ServiceData) (*persistence.Job, error) {
	job, err := data.DB.LoadJob(ctx, id)
	if err != nil {
		return nil, utils.NewPersistenceErr(fmt.Errorf("can't load job: %w", err))
	}
	if job == nil {
		return nil, utils.NewNotFoundErr(fmt.Errorf("no job %s", id))
	}
	return job, nil
}

func validate(data *ServiceData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.Submitter == nil {
		return fmt.Errorf("no Submitter")
	}
	if data.Poller == nil {
		return fmt.Errorf("no Poller")
	}
	if data.Reconciler == nil {
		return fmt.Errorf("no Reconciler")
	}
	if data.Analyzer == nil {
		return fmt.Errorf("no Analyzer")
	}
	if data.Applier == nil {
		return fmt.Errorf("no Applier")
	}
	if data.Retry == nil {
		return fmt.Errorf("no retry executor")
	}
	if data.AnalyzeTimeout <= 0 {
		return fmt.Errorf("no analyze timeout")
	}
	return nil
}
