package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/smartcontractkit/operations-runner/operations"
)

// maxBodySize caps how much of a response body is kept in the result.
const maxBodySize = 1 << 20

// HTTPParams are the params of an http step.
type HTTPParams struct {
	Method  string            `mapstructure:"method"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Body    string            `mapstructure:"body"`
	Timeout time.Duration     `mapstructure:"timeout"`
	// ExpectStatus lists the accepted status codes. Any 2xx status is accepted when empty.
	ExpectStatus []int `mapstructure:"expect_status"`
}

// HTTPResult is the result of an http step.
type HTTPResult struct {
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header"`
	Body       string      `json:"body"`
}

func newHTTPFactory(client *http.Client) operations.StepFactory {
	return func(name string, params map[string]any) (operations.Step, error) {
		var p HTTPParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.URL == "" {
			return nil, errors.New("url is required")
		}

		return NewHTTP(name, client, p), nil
	}
}

// NewHTTP creates a step sending a request with client.
// Transport errors fail the action; an unexpected status fails the success handler.
func NewHTTP(name string, client *http.Client, p HTTPParams) *operations.Operation[HTTPResult] {
	if p.Method == "" {
		p.Method = http.MethodGet
	}

	return operations.NewOperation(name, func(ctx context.Context, rc *operations.RunContext) (HTTPResult, error) {
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		var body io.Reader
		if p.Body != "" {
			body = strings.NewReader(p.Body)
		}
		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.Method), p.URL, body)
		if err != nil {
			return HTTPResult{}, fmt.Errorf("failed to create request: %w", err)
		}
		for k, v := range p.Headers {
			req.Header.Set(k, v)
		}

		rc.Logger.Debugw("Sending request", "method", req.Method, "url", p.URL)
		resp, err := client.Do(req)
		if err != nil {
			return HTTPResult{}, fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return HTTPResult{}, fmt.Errorf("failed to read response body: %w", err)
		}

		return HTTPResult{StatusCode: resp.StatusCode, Header: resp.Header, Body: string(b)}, nil
	}).OnSuccessDo(func(_ *operations.RunContext, res HTTPResult) error {
		if !acceptedStatus(p.ExpectStatus, res.StatusCode) {
			return fmt.Errorf("%s %s returned status %d: %s", p.Method, p.URL, res.StatusCode, strings.TrimSpace(res.Body))
		}

		return nil
	})
}

func acceptedStatus(expected []int, status int) bool {
	if len(expected) == 0 {
		return status >= 200 && status < 300
	}

	return slices.Contains(expected, status)
}
