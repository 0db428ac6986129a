//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airenas/voxinsight/internal/pkg/test"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type config struct {
	uploadURL  string
	statusURL  string
	webhookURL string
	dbURL      string
	token      string
	httpclient *http.Client
}

var (
	cfg      config
	provider = newMockProvider()
)

func TestMain(m *testing.M) {
	cfg.uploadURL = GetEnvOrFail("UPLOAD_URL")
	cfg.statusURL = GetEnvOrFail("STATUS_URL")
	cfg.webhookURL = GetEnvOrFail("WEBHOOK_URL")
	cfg.dbURL = GetEnvOrFail("DB_URL")
	cfg.token = os.Getenv("WEBHOOK_TOKEN")
	cfg.httpclient = &http.Client{Timeout: time.Second * 30}

	tCtx, cf := context.WithTimeout(context.Background(), time.Second*20)
	defer cf()
	WaitForOpenOrFail(tCtx, cfg.dbURL)
	WaitForOpenOrFail(tCtx, cfg.uploadURL)
	WaitForOpenOrFail(tCtx, cfg.statusURL)
	WaitForOpenOrFail(tCtx, cfg.webhookURL)
	waitForDB(tCtx, cfg.dbURL)

	// transcription provider and LLM are external, mock them
	l, ts := startMockService(9876, provider)
	defer ts.Close()
	defer l.Close()

	os.Exit(m.Run())
}

func TestUploadLive(t *testing.T) {
	t.Parallel()
	test.CheckCode(t, test.Invoke(t, cfg.httpclient, NewRequest(t, http.MethodGet, cfg.uploadURL, "/live", nil)), http.StatusOK)
}

func TestWebhookLive(t *testing.T) {
	t.Parallel()
	test.CheckCode(t, test.Invoke(t, cfg.httpclient, NewRequest(t, http.MethodGet, cfg.webhookURL, "/live", nil)), http.StatusOK)
}

func TestStatusLive(t *testing.T) {
	t.Parallel()
	test.CheckCode(t, test.Invoke(t, cfg.httpclient, NewRequest(t, http.MethodGet, cfg.statusURL, "/live", nil)), http.StatusOK)
}

func TestUpload(t *testing.T) {
	t.Parallel()
	req := newUploadRequest(t, []string{"audio.wav"}, [][2]string{{"name", "call"}})
	test.CheckCode(t, test.Invoke(t, cfg.httpclient, req), http.StatusOK)
}

func TestUpload_Fail_SeveralFiles(t *testing.T) {
	t.Parallel()
	req := newUploadRequest(t, []string{"audio.wav", "audio2.wav"}, nil)
	test.CheckCode(t, test.Invoke(t, cfg.httpclient, req), http.StatusBadRequest)
}

func TestUpload_Fail_NoFile(t *testing.T) {
	t.Parallel()
	req := newUploadRequest(t, []string{}, [][2]string{{"name", "call"}})
	test.CheckCode(t, test.Invoke(t, cfg.httpclient, req), http.StatusBadRequest)
}

func TestUpload_Fail_NoUser(t *testing.T) {
	t.Parallel()
	req := newUploadRequest(t, []string{"audio.wav"}, nil)
	req.Header.Del("x-user-id")
	test.CheckCode(t, test.Invoke(t, cfg.httpclient, req), http.StatusUnauthorized)
}

func TestStatus_None(t *testing.T) {
	t.Parallel()
	resp := test.Invoke(t, cfg.httpclient, test.AsUser(NewRequest(t, http.MethodGet, cfg.statusURL, "status/10", nil), "user1"))
	test.CheckCode(t, resp, http.StatusNotFound)
}

func TestWebhook_Fail_NoJob(t *testing.T) {
	t.Parallel()
	resp := test.Invoke(t, cfg.httpclient, NewRequest(t, http.MethodPost, cfg.webhookURL, "webhook", map[string]interface{}{}))
	test.CheckCode(t, resp, http.StatusBadRequest)
}

type uploadResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	AnalysisStatus string `json:"analysisStatus"`
	Error          string `json:"error"`
}

type resultResponse struct {
	statusResponse
	Transcript string `json:"transcript"`
	Analysis   *struct {
		Topics    []string `json:"topics"`
		Sentiment string   `json:"sentiment"`
	} `json:"analysis"`
}

func getStatus(t *testing.T, id, user string) statusResponse {
	t.Helper()
	resp := test.Invoke(t, cfg.httpclient, test.AsUser(NewRequest(t, http.MethodGet, cfg.statusURL, "status/"+id, nil), user))
	test.CheckCode(t, resp, http.StatusOK)
	return test.Decode[statusResponse](t, resp)
}

func TestStatus_Flow(t *testing.T) {
	t.Parallel()
	req := newUploadRequest(t, []string{"audio.wav"}, [][2]string{{"name", "call"}})
	resp := test.Invoke(t, cfg.httpclient, req)
	test.CheckCode(t, resp, http.StatusOK)
	ur := test.Decode[uploadResponse](t, resp)
	require.NotEmpty(t, ur.ID)

	st := getStatus(t, ur.ID, "user1")
	assert.Equal(t, ur.ID, st.ID)

	other := test.Invoke(t, cfg.httpclient, test.AsUser(NewRequest(t, http.MethodGet, cfg.statusURL, "status/"+ur.ID, nil), "user2"))
	test.CheckCode(t, other, http.StatusNotFound)

	dur := time.Second * 30
	tm := time.After(dur)
	for st.AnalysisStatus != "completed" {
		select {
		case <-tm:
			require.Failf(t, "Fail", "analysis not completed in %v, last %v", dur, st)
		case <-time.After(time.Second):
			st = getStatus(t, ur.ID, "user1")
			require.NotEqual(t, "error", st.Status, st.Error)
		}
	}
	assert.Equal(t, "completed", st.Status)

	resp = test.Invoke(t, cfg.httpclient, test.AsUser(NewRequest(t, http.MethodGet, cfg.statusURL, "result/"+ur.ID, nil), "user1"))
	test.CheckCode(t, resp, http.StatusOK)
	res := test.Decode[resultResponse](t, resp)
	assert.Equal(t, "Hello world", res.Transcript)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, []string{"greeting"}, res.Analysis.Topics)
	assert.Equal(t, "positive", res.Analysis.Sentiment)
}

// uploadHeld uploads a file for a new owner whose provider job never finishes by itself,
// returns job ID, owner and provider ID
func uploadHeld(t *testing.T) (string, string, string) {
	t.Helper()
	owner := holdPrefix + uuid.New().String()
	resp := test.Invoke(t, cfg.httpclient, newUploadRequestAs(t, []string{"audio.wav"}, [][2]string{{"name", "call"}}, owner))
	test.CheckCode(t, resp, http.StatusOK)
	ur := test.Decode[uploadResponse](t, resp)
	require.NotEmpty(t, ur.ID)
	extID := provider.waitSubmitted(t, owner, time.Second*20)
	// let the worker store the provider ID
	time.Sleep(time.Second)
	return ur.ID, owner, extID
}

func sendWebhook(t *testing.T, id, st, metadata string) {
	t.Helper()
	in := map[string]interface{}{"job": map[string]string{"id": id, "status": st, "metadata": metadata}}
	req := NewRequest(t, http.MethodPost, cfg.webhookURL, "webhook", in)
	req.URL.RawQuery = url.Values{"token": []string{cfg.token}}.Encode()
	resp := test.Invoke(t, cfg.httpclient, req)
	test.CheckCode(t, resp, http.StatusOK)
}

func waitAnalysis(t *testing.T, id, user string) statusResponse {
	t.Helper()
	dur := time.Second * 30
	tm := time.After(dur)
	st := getStatus(t, id, user)
	for st.AnalysisStatus != "completed" {
		select {
		case <-tm:
			require.Failf(t, "Fail", "analysis not completed in %v, last %v", dur, st)
		case <-time.After(time.Second):
			st = getStatus(t, id, user)
			require.NotEqual(t, "error", st.Status, st.Error)
			require.NotEqual(t, "error", st.AnalysisStatus, st.Error)
		}
	}
	return st
}

func getResult(t *testing.T, id, user string) resultResponse {
	t.Helper()
	resp := test.Invoke(t, cfg.httpclient, test.AsUser(NewRequest(t, http.MethodGet, cfg.statusURL, "result/"+id, nil), user))
	test.CheckCode(t, resp, http.StatusOK)
	return test.Decode[resultResponse](t, resp)
}

func TestWebhook_Terminal_DeliveredTwice(t *testing.T) {
	t.Parallel()
	id, owner, extID := uploadHeld(t)
	assert.Equal(t, "processing", getStatus(t, id, owner).Status)

	sendWebhook(t, extID, "transcribed", owner)
	sendWebhook(t, extID, "transcribed", owner)

	st := waitAnalysis(t, id, owner)
	assert.Equal(t, "completed", st.Status)
	first := getResult(t, id, owner)
	assert.Equal(t, "Hello world", first.Transcript)

	sendWebhook(t, extID, "transcribed", owner)
	sendWebhook(t, extID, "failed", owner)
	time.Sleep(time.Second * 3)

	assert.Equal(t, first, getResult(t, id, owner))
}

func TestWebhook_UnknownID_BindsOwnerJob(t *testing.T) {
	t.Parallel()
	id, owner, _ := uploadHeld(t)

	sendWebhook(t, "late-"+uuid.New().String(), "transcribed", owner)

	st := waitAnalysis(t, id, owner)
	assert.Equal(t, "completed", st.Status)
	res := getResult(t, id, owner)
	assert.Equal(t, "Hello world", res.Transcript)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, "positive", res.Analysis.Sentiment)
}

func TestWebhook_UnknownID_NoMetadata_KeepsJobs(t *testing.T) {
	t.Parallel()
	id, owner, _ := uploadHeld(t)

	sendWebhook(t, "nobody-"+uuid.New().String(), "transcribed", "")
	sendWebhook(t, "nobody-"+uuid.New().String(), "failed", "  ")
	time.Sleep(time.Second * 3)

	st := getStatus(t, id, owner)
	assert.Equal(t, "processing", st.Status)
	assert.Equal(t, "pending", st.AnalysisStatus)
	assert.Empty(t, st.Error)
}

func newUploadRequest(t *testing.T, files []string, params [][2]string) *http.Request {
	t.Helper()
	return newUploadRequestAs(t, files, params, "user1")
}

func newUploadRequestAs(t *testing.T, files []string, params [][2]string, user string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, _ := writer.CreateFormFile("file", f)
		_, _ = io.Copy(part, strings.NewReader(f))
	}
	for _, p := range params {
		writer.WriteField(p[0], p[1])
	}
	writer.Close()
	req, err := http.NewRequest(http.MethodPost, cfg.uploadURL+"/upload", body)
	require.Nil(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return test.AsUser(req, user)
}

const llmAnswer = "```json\n{\"topics\":[\"greeting\"],\"keyInsights\":[\"short call\"],\"actionItems\":[]," +
	"\"sentiment\":\"positive\",\"questions\":[],\"painPoints\":[],\"featureRequests\":[]}\n```"

const holdPrefix = "hold-"

// mockProvider imitates the transcription provider. Every submit gets a new ID,
// jobs of owners with holdPrefix stay in progress until a webhook finishes them
type mockProvider struct {
	lock      sync.Mutex
	held      map[string]bool
	submitted map[string]string
}

func newMockProvider() *mockProvider {
	return &mockProvider{held: map[string]bool{}, submitted: map[string]string{}}
}

func (p *mockProvider) submit(owner string) string {
	p.lock.Lock()
	defer p.lock.Unlock()
	res := "ext-" + uuid.New().String()
	if strings.HasPrefix(owner, holdPrefix) {
		p.held[res] = true
	}
	p.submitted[owner] = res
	return res
}

func (p *mockProvider) isHeld(id string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.held[id]
}

func (p *mockProvider) waitSubmitted(t *testing.T, owner string, dur time.Duration) string {
	t.Helper()
	tm := time.After(dur)
	for {
		p.lock.Lock()
		res := p.submitted[owner]
		p.lock.Unlock()
		if res != "" {
			return res
		}
		select {
		case <-tm:
			require.Failf(t, "Fail", "no submit for %s in %v", owner, dur)
		case <-time.After(time.Millisecond * 200):
		}
	}
}

func startMockService(port int, p *mockProvider) (net.Listener, *httptest.Server) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.Fatalf("can't start mock service: %v", err)
	}
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/transcriber/jobs/")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transcriber/jobs":
			var in struct {
				Metadata string `json:"metadata"`
			}
			_ = json.NewDecoder(r.Body).Decode(&in)
			fmt.Fprintf(w, `{"id":%q,"status":"in_progress"}`, p.submit(in.Metadata))
		case r.URL.Path == "/llm/v1/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, llmAnswer)
		case path != r.URL.Path && strings.HasSuffix(path, "/transcript"):
			io.Copy(w, strings.NewReader(`{"monologues":[{"speaker":0,"elements":[{"type":"text","value":"Hello"},` +
				`{"type":"text","value":"world"}]}]}`))
		case path != r.URL.Path && path != "" && !strings.Contains(path, "/"):
			st := "transcribed"
			if p.isHeld(path) {
				st = "in_progress"
			}
			fmt.Fprintf(w, `{"id":%q,"status":%q}`, path, st)
		default:
			log.Printf("Unknown request to: " + r.URL.String())
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ts.Listener.Close()
	ts.Listener = l

	ts.Start()
	log.Printf("started mock srv on port: %d", port)
	return l, ts
}
