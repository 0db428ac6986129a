package reconcile

import (
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/airenas/voxinsight/internal/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/retry"
	"github.com/airenas/voxinsight/internal/pkg/status"
	"github.com/airenas/voxinsight/internal/pkg/test"
	"github.com/airenas/voxinsight/internal/pkg/test/mocks"
	tapi "github.com/airenas/voxinsight/internal/pkg/transcriber/api"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	dbMock          *mocks.DB
	senderMock      *mocks.Sender
	transcriberMock *mocks.Transcriber
)

func initTest(t *testing.T) *Reconciler {
	t.Helper()
	dbMock = &mocks.DB{}
	senderMock = &mocks.Sender{}
	transcriberMock = &mocks.Transcriber{}
	r, err := retry.New(3, time.Millisecond, 1.5)
	require.Nil(t, err)
	a, err := NewApplier(dbMock, senderMock, r)
	require.Nil(t, err)
	res, err := NewReconciler(dbMock, a, transcriberMock, r)
	require.Nil(t, err)
	return res
}

func newJob(st status.Status, ast status.AnalysisStatus) *persistence.Job {
	return &persistence.Job{ID: "1", ExternalID: sql.NullString{String: "EXT", Valid: true}, OwnerID: "user1",
		Status: st.String(), AnalysisStatus: ast.String()}
}

func newTranscript() *tapi.Transcript {
	return &tapi.Transcript{Monologues: []tapi.Monologue{{Elements: []tapi.Element{{Value: "Hello"}, {Value: "world"}}}}}
}

func TestReconcile_Transcribed(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "EXT").Return(newJob(status.Processing, status.AnalysisPending), nil)
	transcriberMock.On("GetTranscript", mock.Anything, "EXT").Return(newTranscript(), nil)
	dbMock.On("ApplyStatus", mock.Anything, "1", status.Completed, "Hello world", "").Return(true, nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "EXT", Status: "transcribed"})

	require.Nil(t, err)
	dbMock.AssertNumberOfCalls(t, "ApplyStatus", 1)
	require.Equal(t, 2, len(senderMock.Calls))
	assert.Equal(t, messages.DefaultOpts(messages.StatusChange), senderMock.Calls[0].Arguments[2])
	assert.Equal(t, messages.NewJobMessage("1"), senderMock.Calls[0].Arguments[1])
	assert.Equal(t, messages.WorkOpts(messages.TypeAnalyze), senderMock.Calls[1].Arguments[2])
}

func TestReconcile_Idempotent(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "EXT").Return(newJob(status.Processing, status.AnalysisPending), nil).Once()
	dbMock.On("FindByExternalID", mock.Anything, "EXT").Return(newJob(status.Completed, status.AnalysisProcessing), nil)
	transcriberMock.On("GetTranscript", mock.Anything, "EXT").Return(newTranscript(), nil)
	dbMock.On("ApplyStatus", mock.Anything, "1", status.Completed, "Hello world", "").Return(true, nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	n := &tapi.JobData{ID: "EXT", Status: "transcribed"}
	require.Nil(t, r.Reconcile(test.Ctx(t), n))
	require.Nil(t, r.Reconcile(test.Ctx(t), n))

	dbMock.AssertNumberOfCalls(t, "ApplyStatus", 1)
	transcriberMock.AssertNumberOfCalls(t, "GetTranscript", 1)
	assert.Equal(t, 2, len(senderMock.Calls))
}

func TestReconcile_TerminalPendingAnalysis_Enqueues(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "EXT").Return(newJob(status.Completed, status.AnalysisPending), nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "EXT", Status: "transcribed"})

	require.Nil(t, err)
	dbMock.AssertNotCalled(t, "ApplyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Equal(t, 1, len(senderMock.Calls))
	assert.Equal(t, messages.WorkOpts(messages.TypeAnalyze), senderMock.Calls[0].Arguments[2])
}

func TestReconcile_TerminalError_Skips(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "EXT").Return(newJob(status.Error, status.AnalysisPending), nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "EXT", Status: "failed"})

	require.Nil(t, err)
	assert.Equal(t, 0, len(senderMock.Calls))
	dbMock.AssertNotCalled(t, "ApplyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_CaseInsensitive(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "ext").Return(nil, nil)
	dbMock.On("FindByExternalIDFold", mock.Anything, "ext").Return(newJob(status.Processing, status.AnalysisPending), nil)
	dbMock.On("ApplyStatus", mock.Anything, "1", status.Error, "", "bad_media").Return(true, nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "ext", Status: "failed", Failure: "bad_media"})

	require.Nil(t, err)
	dbMock.AssertNumberOfCalls(t, "ApplyStatus", 1)
	dbMock.AssertNotCalled(t, "FindLatestUnresolved", mock.Anything, mock.Anything)
	require.Equal(t, 1, len(senderMock.Calls))
	assert.Equal(t, messages.DefaultOpts(messages.StatusChange), senderMock.Calls[0].Arguments[2])
}

func TestReconcile_FuzzyBackfill(t *testing.T) {
	r := initTest(t)
	job := newJob(status.Processing, status.AnalysisPending)
	job.ExternalID = sql.NullString{}
	dbMock.On("FindByExternalID", mock.Anything, "NEW").Return(nil, nil)
	dbMock.On("FindByExternalIDFold", mock.Anything, "NEW").Return(nil, nil)
	dbMock.On("FindLatestUnresolved", mock.Anything, "user1").Return(job, nil)
	dbMock.On("BindExternalID", mock.Anything, "1", "NEW").Return(true, nil)
	transcriberMock.On("GetTranscript", mock.Anything, "NEW").Return(newTranscript(), nil)
	dbMock.On("ApplyStatus", mock.Anything, "1", status.Completed, "Hello world", "").Return(true, nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "NEW", Status: "transcribed", Metadata: "user1"})

	require.Nil(t, err)
	dbMock.AssertCalled(t, "BindExternalID", mock.Anything, "1", "NEW")
	dbMock.AssertCalled(t, "ApplyStatus", mock.Anything, "1", status.Completed, "Hello world", "")
}

func TestReconcile_FuzzyBind_Retried(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "NEW").Return(nil, nil)
	dbMock.On("FindByExternalIDFold", mock.Anything, "NEW").Return(nil, nil)
	dbMock.On("FindLatestUnresolved", mock.Anything, "user1").Return(newJob(status.Processing, status.AnalysisPending), nil)
	dbMock.On("BindExternalID", mock.Anything, "1", "NEW").Return(false, io.ErrUnexpectedEOF).Once()
	dbMock.On("BindExternalID", mock.Anything, "1", "NEW").Return(true, nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "NEW", Status: "in_progress", Metadata: "user1"})

	require.Nil(t, err)
	dbMock.AssertNumberOfCalls(t, "BindExternalID", 2)
	dbMock.AssertNotCalled(t, "ApplyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_NoOwner_NotFound(t *testing.T) {
	for _, md := range []string{"", "  "} {
		t.Run("metadata '"+md+"'", func(t *testing.T) {
			r := initTest(t)
			dbMock.On("FindByExternalID", mock.Anything, "NEW").Return(nil, nil)
			dbMock.On("FindByExternalIDFold", mock.Anything, "NEW").Return(nil, nil)
			dbMock.On("FindLatestUnresolved", mock.Anything, mock.Anything).
				Return(&persistence.Job{ID: "B", OwnerID: "someoneElse", Status: status.Processing.String()}, nil)

			err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "NEW", Status: "transcribed", Metadata: md})

			assert.True(t, utils.IsNotFound(err))
			dbMock.AssertNotCalled(t, "FindLatestUnresolved", mock.Anything, mock.Anything)
			dbMock.AssertNotCalled(t, "BindExternalID", mock.Anything, mock.Anything, mock.Anything)
			dbMock.AssertNotCalled(t, "ApplyStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			transcriberMock.AssertNotCalled(t, "GetTranscript", mock.Anything, mock.Anything)
		})
	}
}

func TestReconcile_NotFound(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "NEW").Return(nil, nil)
	dbMock.On("FindByExternalIDFold", mock.Anything, "NEW").Return(nil, nil)
	dbMock.On("FindLatestUnresolved", mock.Anything, "user1").Return(nil, nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "NEW", Status: "transcribed", Metadata: "user1"})

	assert.True(t, utils.IsNotFound(err))
	dbMock.AssertNotCalled(t, "BindExternalID", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_DBFails(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "EXT").Return(nil, io.EOF)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "EXT", Status: "transcribed"})

	assert.True(t, utils.IsPersistence(err))
}

func TestReconcile_FetchFails_MarksError(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "EXT").Return(newJob(status.Processing, status.AnalysisPending), nil)
	transcriberMock.On("GetTranscript", mock.Anything, "EXT").Return(nil, utils.NewUpstreamErr(io.EOF))
	dbMock.On("ApplyStatus", mock.Anything, "1", status.Error, "", mock.Anything).Return(true, nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "EXT", Status: "transcribed"})

	require.Nil(t, err)
	errStr := dbMock.Calls[1].Arguments[4].(string)
	assert.Contains(t, errStr, "can't get transcript")
	require.Equal(t, 1, len(senderMock.Calls))
}

func TestReconcile_InProgress(t *testing.T) {
	r := initTest(t)
	dbMock.On("FindByExternalID", mock.Anything, "EXT").Return(newJob(status.Processing, status.AnalysisPending), nil)

	err := r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "EXT", Status: "in_progress"})

	require.Nil(t, err)
	assert.Equal(t, 0, len(senderMock.Calls))
}

func TestReconcile_Validation(t *testing.T) {
	r := initTest(t)
	assert.True(t, utils.IsValidation(r.Reconcile(test.Ctx(t), nil)))
	assert.True(t, utils.IsValidation(r.Reconcile(test.Ctx(t), &tapi.JobData{Status: "failed"})))
	assert.True(t, utils.IsValidation(r.Reconcile(test.Ctx(t), &tapi.JobData{ID: "EXT"})))
	assert.Equal(t, 0, len(dbMock.Calls))
}

func TestNewReconciler_Fails(t *testing.T) {
	r, _ := retry.New(1, time.Millisecond, 1)
	a, _ := NewApplier(&mocks.DB{}, &mocks.Sender{}, r)
	_, err := NewReconciler(nil, a, &mocks.Transcriber{}, r)
	assert.NotNil(t, err)
	_, err = NewReconciler(&mocks.DB{}, nil, &mocks.Transcriber{}, r)
	assert.NotNil(t, err)
	_, err = NewReconciler(&mocks.DB{}, a, nil, r)
	assert.NotNil(t, err)
	_, err = NewReconciler(&mocks.DB{}, a, &mocks.Transcriber{}, nil)
	assert.NotNil(t, err)
}
