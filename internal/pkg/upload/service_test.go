package upload

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/airenas/voxinsight/internal/pkg/messages"
	"github.com/airenas/voxinsight/internal/pkg/submit"
	"github.com/airenas/voxinsight/internal/pkg/test"
	"github.com/airenas/voxinsight/internal/pkg/test/mocks"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCreator struct{ mock.Mock }

func (m *mockCreator) Create(ctx context.Context, in *submit.Input) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

var (
	saverMock   *mocks.Filer
	creatorMock *mockCreator
	senderMock  *mocks.Sender
	tData       *Data
	tEcho       *echo.Echo
)

func initTest(t *testing.T) {
	t.Helper()
	saverMock = &mocks.Filer{}
	creatorMock = &mockCreator{}
	senderMock = &mocks.Sender{}
	tData = &Data{Saver: saverMock, Creator: creatorMock, MsgSender: senderMock}
	tEcho = initRoutes(tData)
	saverMock.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	creatorMock.On("Create", mock.Anything, mock.Anything).Return("1", nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func TestWrongPath(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/invalid", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

func TestWrongMethod(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/upload", nil)
	test.Code(t, tEcho, req, http.StatusMethodNotAllowed)
}

func TestLive(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	test.Code(t, tEcho, req, http.StatusOK)
}

func TestUpload(t *testing.T) {
	initTest(t)
	req := newTestRequest(t, "file", "call 1.WAV", [][2]string{{"name", "sales call"}})

	resp := test.Code(t, tEcho, req, http.StatusOK)

	res := test.Decode[result](t, resp.Result())
	require.NotEmpty(t, res.ID)
	require.Equal(t, 1, len(saverMock.Calls))
	assert.Equal(t, res.ID+"/call_1.wav", saverMock.Calls[0].Arguments[1])
	assert.Equal(t, int64(4), saverMock.Calls[0].Arguments[3])
	in := creatorMock.Calls[0].Arguments[1].(*submit.Input)
	assert.Equal(t, &submit.Input{ID: res.ID, OwnerID: "user1", FileName: res.ID + "/call_1.wav", Name: "sales call"}, in)
	require.Equal(t, 1, len(senderMock.Calls))
	assert.Equal(t, messages.NewJobMessage(res.ID), senderMock.Calls[0].Arguments[1])
	assert.Equal(t, messages.WorkOpts(messages.TypeSubmit), senderMock.Calls[0].Arguments[2])
}

func TestUpload_NoUser(t *testing.T) {
	initTest(t)
	req := newTestRequest(t, "file", "a.wav", nil)
	req.Header.Del(utils.HeaderUserID)

	test.Code(t, tEcho, req, http.StatusUnauthorized)

	assert.Equal(t, 0, len(saverMock.Calls))
}

func TestUpload_BadRequest(t *testing.T) {
	tests := []struct {
		name   string
		param  string
		file   string
		params [][2]string
	}{
		{name: "Param", param: "file2", file: "a.wav"},
		{name: "Ext", param: "file", file: "a.txt"},
		{name: "NoExt", param: "file", file: "a"},
		{name: "UnknownParam", param: "file", file: "a.wav", params: [][2]string{{"email", "a@b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initTest(t)
			req := newTestRequest(t, tt.param, tt.file, tt.params)
			test.Code(t, tEcho, req, http.StatusBadRequest)
			assert.Equal(t, 0, len(creatorMock.Calls))
		})
	}
}

func TestUpload_NoForm(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("olia"))
	req.Header.Set(utils.HeaderUserID, "user1")
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func TestUpload_SaveFails(t *testing.T) {
	initTest(t)
	saverMock.ExpectedCalls = nil
	saverMock.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(io.EOF)

	test.Code(t, tEcho, newTestRequest(t, "file", "a.wav", nil), http.StatusInternalServerError)

	assert.Equal(t, 0, len(creatorMock.Calls))
}

func TestUpload_CreateFails(t *testing.T) {
	initTest(t)
	creatorMock.ExpectedCalls = nil
	creatorMock.On("Create", mock.Anything, mock.Anything).Return("", utils.NewPersistenceErr(io.EOF))

	test.Code(t, tEcho, newTestRequest(t, "file", "a.wav", nil), http.StatusInternalServerError)

	assert.Equal(t, 0, len(senderMock.Calls))
}

func TestUpload_SendFails(t *testing.T) {
	initTest(t)
	senderMock.ExpectedCalls = nil
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(io.EOF)

	test.Code(t, tEcho, newTestRequest(t, "file", "a.wav", nil), http.StatusInternalServerError)
}

func Test_validate(t *testing.T) {
	tests := []struct {
		name    string
		data    *Data
		wantErr bool
	}{
		{name: "OK", data: &Data{Saver: &mocks.Filer{}, Creator: &mockCreator{}, MsgSender: &mocks.Sender{}}, wantErr: false},
		{name: "Saver", data: &Data{Creator: &mockCreator{}, MsgSender: &mocks.Sender{}}, wantErr: true},
		{name: "Creator", data: &Data{Saver: &mocks.Filer{}, MsgSender: &mocks.Sender{}}, wantErr: true},
		{name: "Sender", data: &Data{Saver: &mocks.Filer{}, Creator: &mockCreator{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validate(tt.data); (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func newTestRequest(t *testing.T, filep, file string, params [][2]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filep != "" {
		part, err := writer.CreateFormFile(filep, file)
		require.Nil(t, err)
		_, _ = io.Copy(part, strings.NewReader("olia"))
	}
	for _, p := range params {
		require.Nil(t, writer.WriteField(p[0], p[1]))
	}
	require.Nil(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	req.Header.Set(utils.HeaderUserID, "user1")
	return req
}
