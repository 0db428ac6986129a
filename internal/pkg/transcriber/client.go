package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	tapi "github.com/airenas/voxinsight/internal/pkg/transcriber/api"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/cenkalti/backoff/v4"
)

const transcriptContentType = "application/vnd.rev.transcript.v1.0+json"

// Client comunicates with transcription provider
type Client struct {
	httpclient    *http.Client
	url           string
	token         string
	callbackURL   string
	submitTimeout time.Duration
	timeout       time.Duration
	backoff       func() backoff.BackOff
}

// NewClient creates a transcription provider client.
// callbackURL may be empty, then the provider does not push notifications and the job must be polled.
func NewClient(URL, token, callbackURL string) (*Client, error) {
	res := Client{}
	if URL == "" {
		return nil, fmt.Errorf("no URL")
	}
	if !strings.HasPrefix(URL, "http") {
		return nil, fmt.Errorf("no http in URL")
	}
	if token == "" {
		return nil, utils.NewAuthenticationErr(fmt.Errorf("no token"))
	}
	if callbackURL != "" {
		if _, err := url.ParseRequestURI(callbackURL); err != nil {
			return nil, fmt.Errorf("wrong callbackURL: %w", err)
		}
	}
	res.url = strings.TrimSuffix(URL, "/")
	res.token = token
	res.callbackURL = callbackURL
	res.submitTimeout = time.Minute
	res.timeout = time.Second * 50
	res.httpclient = asrHTTPClient()
	res.backoff = newSimpleBackoff
	goapp.Log.Info().Str("url", res.url).Bool("webhook", callbackURL != "").Msg("transcriber client")
	return &res, nil
}

// UsesWebhook returns true if provider pushes job status to the callback URL
func (sp *Client) UsesWebhook() bool {
	return sp.callbackURL != ""
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Submit sends audio reference to the provider, returns provider's job ID
func (sp *Client) Submit(ctx context.Context, data *tapi.SubmitData) (string, error) {
	in := *data
	if in.CallbackURL == "" {
		in.CallbackURL = sp.callbackURL
	}
	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("can't marshal: %w", err)
	}
	res, err := goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		var respData submitResponse
		ctx, cancelF := context.WithTimeout(ctx, sp.submitTimeout)
		defer cancelF()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sp.url+"/jobs", bytes.NewReader(body))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Content-Type", "application/json")
		sp.authorize(req)
		goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer drain(resp)
		if err := goapp.ValidateHTTPResp(resp, 200); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return "", goapp.IsRetryableCode(resp.StatusCode), err
		}
		br, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't read body: %w", err)
		}
		if err = json.Unmarshal(br, &respData); err != nil {
			return "", false, fmt.Errorf("can't decode response: %w", err)
		}
		if respData.ID == "" {
			return "", false, fmt.Errorf("can't get ID from response")
		}
		return respData.ID, false, nil
	}, sp.backoff())
	if err != nil {
		return "", utils.NewUpstreamErr(err)
	}
	return res, nil
}

// GetStatus returns provider job status by ID
func (sp *Client) GetStatus(ctx context.Context, ID string) (*tapi.JobData, error) {
	res := &tapi.JobData{}
	if err := sp.getJSON(ctx, fmt.Sprintf("%s/jobs/%s", sp.url, url.PathEscape(ID)), "application/json", res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetTranscript returns structured transcript by ID
func (sp *Client) GetTranscript(ctx context.Context, ID string) (*tapi.Transcript, error) {
	res := &tapi.Transcript{}
	if err := sp.getJSON(ctx, fmt.Sprintf("%s/jobs/%s/transcript", sp.url, url.PathEscape(ID)), transcriptContentType, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (sp *Client) getJSON(ctx context.Context, urlStr, accept string, res interface{}) error {
	_, err := goapp.InvokeWithBackoff(ctx, func() (interface{}, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Accept", accept)
		sp.authorize(req)
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer drain(resp)
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		if err = json.NewDecoder(resp.Body).Decode(res); err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
		}
		return nil, false, nil
	}, sp.backoff())
	if err != nil {
		return utils.NewUpstreamErr(err)
	}
	return nil
}

func (sp *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+sp.token)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
	_ = resp.Body.Close()
}

func asrHTTPClient() *http.Client {
	return &http.Client{Transport: newTransport()}
}

func newTransport() http.RoundTripper {
	// default roundripper is not well suited for our case
	// it has just 2 idle connections per host, so try to tune a bit
	res := http.DefaultTransport.(*http.Transport).Clone()
	res.MaxConnsPerHost = 100
	res.MaxIdleConns = 50
	res.MaxIdleConnsPerHost = 50
	res.IdleConnTimeout = 90 * time.Second
	return res
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
