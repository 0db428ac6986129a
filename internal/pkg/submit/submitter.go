package submit

import (
	"context"
	"fmt"
	"strings"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/retry"
	"github.com/airenas/voxinsight/internal/pkg/status"
	tapi "github.com/airenas/voxinsight/internal/pkg/transcriber/api"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/google/uuid"
)

// DB provides job persistence
type DB interface {
	InsertJob(ctx context.Context, job *persistence.Job) error
	LoadJob(ctx context.Context, id string) (*persistence.Job, error)
	SetExternalID(ctx context.Context, id, extID string) error
}

// Filer gives a downloadable URL of the stored audio
type Filer interface {
	PresignURL(ctx context.Context, name string) (string, error)
}

// Transcriber submits audio to the provider
type Transcriber interface {
	Submit(ctx context.Context, data *tapi.SubmitData) (string, error)
	UsesWebhook() bool
}

// Applier moves job to a terminal status
type Applier interface {
	Fail(ctx context.Context, id, reason string) (bool, error)
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, *messages.Options) error
}

// Data keeps submitter dependencies
type Data struct {
	DB          DB
	Filer       Filer
	Transcriber Transcriber
	Applier     Applier
	MsgSender   MsgSender
	Retry       *retry.Executor
}

// Submitter creates jobs and sends their audio to the provider
type Submitter struct {
	data Data
	now  func() time.Time
}

// Input for a new job
type Input struct {
	// ID is generated if empty
	ID       string
	OwnerID  string
	FileName string
	Name     string
}

// NewSubmitter creates submitter
func NewSubmitter(data *Data) (*Submitter, error) {
	if data == nil {
		return nil, fmt.Errorf("no data")
	}
	if err := validate(data); err != nil {
		return nil, err
	}
	return &Submitter{data: *data, now: time.Now}, nil
}

// Create persists a new job in processing status, returns job ID.
// The row exists before the provider knows about the job
func (s *Submitter) Create(ctx context.Context, in *Input) (string, error) {
	if in == nil || strings.TrimSpace(in.OwnerID) == "" {
		return "", utils.NewAuthenticationErr(fmt.Errorf("no owner"))
	}
	if strings.TrimSpace(in.FileName) == "" {
		return "", utils.NewValidationErr(fmt.Errorf("no file"))
	}
	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	job := &persistence.Job{ID: id, OwnerID: in.OwnerID, FileName: in.FileName, Name: utils.ToSQLStr(in.Name),
		Status: status.Processing.String(), AnalysisStatus: status.AnalysisPending.String(), Created: s.now()}
	err := s.data.Retry.Do(ctx, "insert job", func() error {
		if err := s.data.DB.InsertJob(ctx, job); err != nil {
			return utils.NewPersistenceErr(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("can't create job: %w", err)
	}
	goapp.Log.Info().Str("ID", id).Str("owner", in.OwnerID).Msg("job created")
	return id, nil
}

// Send submits job audio to the provider and stores provider's job ID.
// Provider rejection moves the job to error. Without webhook a poll message is enqueued
func (s *Submitter) Send(ctx context.Context, id string) error {
	job, err := s.data.DB.LoadJob(ctx, id)
	if err != nil {
		return utils.NewPersistenceErr(fmt.Errorf("can't load job: %w", err))
	}
	if job == nil {
		return utils.NewNotFoundErr(fmt.Errorf("no job %s", id))
	}
	if status.From(job.Status).IsTerminal() {
		goapp.Log.Info().Str("ID", id).Str("status", job.Status).Msg("job terminal, skip submit")
		return nil
	}
	if !job.ExternalID.Valid {
		url, err := s.data.Filer.PresignURL(ctx, job.FileName)
		if err != nil {
			return fmt.Errorf("can't get audio URL: %w", err)
		}
		extID, err := s.data.Transcriber.Submit(ctx, &tapi.SubmitData{MediaURL: url, Metadata: job.OwnerID})
		if err != nil {
			goapp.Log.Error().Err(err).Str("ID", id).Msg("submit rejected")
			_, err = s.data.Applier.Fail(ctx, id, "provider rejected: "+err.Error())
			return err
		}
		err = s.data.Retry.Do(ctx, "set external ID", func() error {
			if err := s.data.DB.SetExternalID(ctx, id, extID); err != nil {
				return utils.NewPersistenceErr(err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("can't save external ID %s: %w", extID, err)
		}
		job.ExternalID = utils.ToSQLStr(extID)
		goapp.Log.Info().Str("ID", id).Str("extID", extID).Msg("submitted")
	} else {
		goapp.Log.Info().Str("ID", id).Str("extID", job.ExternalID.String).Msg("already submitted")
	}
	if s.data.Transcriber.UsesWebhook() {
		return nil
	}
	return s.data.Retry.Do(ctx, "send poll", func() error {
		if err := s.data.MsgSender.SendMessage(ctx, messages.NewJobMessage(id), messages.WorkOpts(messages.TypePoll)); err != nil {
			return utils.NewPersistenceErr(err)
		}
		return nil
	})
}

func validate(data *Data) error {
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.Filer == nil {
		return fmt.Errorf("no Filer")
	}
	if data.Transcriber == nil {
		return fmt.Errorf("no Transcriber")
	}
	if data.Applier == nil {
		return fmt.Errorf("no Applier")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.Retry == nil {
		return fmt.Errorf("no retry executor")
	}
	return nil
}
