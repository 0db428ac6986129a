package mocks

import (
	"context"
	"io"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/status"
	"github.com/airenas/voxinsight/internal/pkg/transcriber/api"
	"github.com/stretchr/testify/mock"
)

// Filer is minio mock
type Filer struct{ mock.Mock }

// SaveFile func mock
func (m *Filer) SaveFile(ctx context.Context, name string, r io.Reader, size int64) error {
	args := m.Called(ctx, name, r, size)
	return args.Error(0)
}

// PresignURL func mock
func (m *Filer) PresignURL(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

// DB is postgres DB mock
type DB struct{ mock.Mock }

func (m *DB) InsertJob(ctx context.Context, job *persistence.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *DB) LoadJob(ctx context.Context, id string) (*persistence.Job, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Job](args.Get(0)), args.Error(1)
}

func (m *DB) FindByExternalID(ctx context.Context, extID string) (*persistence.Job, error) {
	args := m.Called(ctx, extID)
	return to[*persistence.Job](args.Get(0)), args.Error(1)
}

func (m *DB) FindByExternalIDFold(ctx context.Context, extID string) (*persistence.Job, error) {
	args := m.Called(ctx, extID)
	return to[*persistence.Job](args.Get(0)), args.Error(1)
}

func (m *DB) FindLatestUnresolved(ctx context.Context, owner string) (*persistence.Job, error) {
	args := m.Called(ctx, owner)
	return to[*persistence.Job](args.Get(0)), args.Error(1)
}

func (m *DB) SetExternalID(ctx context.Context, id, extID string) error {
	args := m.Called(ctx, id, extID)
	return args.Error(0)
}

func (m *DB) BindExternalID(ctx context.Context, id, extID string) (bool, error) {
	args := m.Called(ctx, id, extID)
	return args.Bool(0), args.Error(1)
}

func (m *DB) ApplyStatus(ctx context.Context, id string, st status.Status, text, errStr string) (bool, error) {
	args := m.Called(ctx, id, st, text, errStr)
	return args.Bool(0), args.Error(1)
}

func (m *DB) StartAnalysis(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *DB) FinishAnalysis(ctx context.Context, id string, st status.AnalysisStatus, data *persistence.AnalysisData, errStr string) (bool, error) {
	args := m.Called(ctx, id, st, data, errStr)
	return args.Bool(0), args.Error(1)
}

func (m *DB) Live(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Sender is postgres queue mock
type Sender struct{ mock.Mock }

func (m *Sender) SendMessage(ctx context.Context, msg amessages.Message, opts *messages.Options) error {
	args := m.Called(ctx, msg, opts)
	return args.Error(0)
}

// Transcriber is transcription client mock
type Transcriber struct{ mock.Mock }

func (m *Transcriber) Submit(ctx context.Context, data *api.SubmitData) (string, error) {
	args := m.Called(ctx, data)
	return args.String(0), args.Error(1)
}

func (m *Transcriber) GetStatus(ctx context.Context, ID string) (*api.JobData, error) {
	args := m.Called(ctx, ID)
	return to[*api.JobData](args.Get(0)), args.Error(1)
}

func (m *Transcriber) GetTranscript(ctx context.Context, ID string) (*api.Transcript, error) {
	args := m.Called(ctx, ID)
	return to[*api.Transcript](args.Get(0)), args.Error(1)
}

func (m *Transcriber) UsesWebhook() bool {
	args := m.Called()
	return args.Bool(0)
}

// Analyzer is transcript analyzer mock
type Analyzer struct{ mock.Mock }

func (m *Analyzer) Analyze(ctx context.Context, text string) (*persistence.AnalysisData, error) {
	args := m.Called(ctx, text)
	return to[*persistence.AnalysisData](args.Get(0)), args.Error(1)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}

// Applier is terminal status applier mock
type Applier struct{ mock.Mock }

func (m *Applier) Complete(ctx context.Context, id, text string) (bool, error) {
	args := m.Called(ctx, id, text)
	return args.Bool(0), args.Error(1)
}

func (m *Applier) Fail(ctx context.Context, id, reason string) (bool, error) {
	args := m.Called(ctx, id, reason)
	return args.Bool(0), args.Error(1)
}
