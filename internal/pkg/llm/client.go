package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/cenkalti/backoff/v4"
)

// Client calls chat completion endpoint of an OpenAI compatible model server
type Client struct {
	httpclient  *http.Client
	url         string
	key         string
	model       string
	temperature float64
	backoff     func() backoff.BackOff
}

// NewClient creates llm client
func NewClient(URL, key, model string) (*Client, error) {
	if URL == "" {
		return nil, fmt.Errorf("no URL")
	}
	if !strings.HasPrefix(URL, "http") {
		return nil, fmt.Errorf("no http in URL")
	}
	if key == "" {
		return nil, utils.NewAuthenticationErr(fmt.Errorf("no llm key"))
	}
	if model == "" {
		return nil, fmt.Errorf("no model")
	}
	res := &Client{url: strings.TrimSuffix(URL, "/") + "/v1/chat/completions", key: key, model: model,
		temperature: 0.2}
	res.httpclient = &http.Client{}
	res.backoff = newSimpleBackoff
	goapp.Log.Info().Str("url", res.url).Str("model", model).Msg("llm client")
	return res, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type response struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Complete sends system and user prompts, returns the first answer text.
// Deadline is taken from ctx, expiry is reported as utils.TimeoutError
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(request{Model: c.model, Temperature: c.temperature,
		Messages: []message{{Role: "system", Content: system}, {Role: "user", Content: user}}})
	if err != nil {
		return "", fmt.Errorf("can't marshal: %w", err)
	}
	res, err := goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.key)
		resp, err := c.httpclient.Do(req)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			return "", goapp.IsRetryableCode(resp.StatusCode), fmt.Errorf("can't invoke '%s': %w", c.url, err)
		}
		var respData response
		if err = json.NewDecoder(resp.Body).Decode(&respData); err != nil {
			return "", false, fmt.Errorf("can't decode response: %w", err)
		}
		if len(respData.Choices) == 0 {
			return "", false, fmt.Errorf("no choices in response")
		}
		return respData.Choices[0].Message.Content, false, nil
	}, c.backoff())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", utils.NewTimeoutErr(fmt.Errorf("llm call: %w", err))
		}
		return "", utils.NewUpstreamErr(err)
	}
	return res, nil
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	res.InitialInterval = 2 * time.Second
	return backoff.WithMaxRetries(res, 2)
}
