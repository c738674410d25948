package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/codefionn/werkzeug/internal/consts"
	"github.com/codefionn/werkzeug/internal/engine"
	"github.com/codefionn/werkzeug/internal/logger"
)

// Fetcher performs HTTP requests on behalf of guest code. The guest only
// ever sees the status code and the body as a raw string; no socket,
// response object or connection handle crosses the bridge.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error)
}

// FetchOptions is the JSON options object a guest passes to bridge.fetch.
type FetchOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FetchResult is what bridge.fetch resolves to inside the guest.
type FetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// SkillSource resolves named skill content for bridge.getSkill. A missing
// skill is not an error; it resolves to null in the guest.
type SkillSource interface {
	SkillContent(ctx context.Context, name string) (content string, found bool, err error)
}

// LogSink receives fire-and-forget log lines from guest code.
type LogSink interface {
	GuestLog(provider, message string)
}

// HTTPFetcher is the default Fetcher on net/http.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with a bounded client timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: consts.DefaultFetchTimeout}}
}

// Fetch performs the request and copies out status and body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, consts.MaxBridgeResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &FetchResult{Status: resp.StatusCode, Body: string(respBody)}, nil
}

// loggerSink forwards guest log lines to the process logger.
type loggerSink struct{}

func (loggerSink) GuestLog(provider, message string) {
	logger.Info("[guest:%s] %s", provider, message)
}

// installBridge binds the three host capabilities into a guest context.
// These are the guest's only channel to the outside world, and they are all
// read-style, parameterized operations; one guest's misuse cannot corrupt
// state another guest sees.
func (m *Manager) installBridge(ectx engine.Context, providerName string, inst *Instance) error {
	logFn := func(_ context.Context, args []string) (string, error) {
		message := strings.Join(args, " ")
		m.logSink.GuestLog(providerName, message)
		return "", nil
	}
	if err := ectx.InstallHostFunction(hostFnLog, logFn, engine.HostFunctionOptions{}); err != nil {
		return err
	}

	fetchFn := func(ctx context.Context, args []string) (string, error) {
		if len(args) < 1 || args[0] == "" {
			return "", errors.New("fetch: url is required")
		}
		var opts FetchOptions
		if len(args) > 1 && args[1] != "" {
			if err := json.Unmarshal([]byte(args[1]), &opts); err != nil {
				return "", fmt.Errorf("fetch: invalid options: %w", err)
			}
		}

		// Host-side I/O does not consume the guest's execution budget.
		deadline := inst.currentDeadline()
		deadline.Pause()
		result, err := m.fetcher.Fetch(ctx, args[0], opts)
		deadline.Resume()
		if err != nil {
			return "", fmt.Errorf("fetch: %w", err)
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("fetch: failed to encode response: %w", err)
		}
		return string(payload), nil
	}
	if err := ectx.InstallHostFunction(hostFnFetch, fetchFn, engine.HostFunctionOptions{Async: true}); err != nil {
		return err
	}

	skillFn := func(ctx context.Context, args []string) (string, error) {
		if len(args) < 1 || args[0] == "" {
			return "", errors.New("getSkill: name is required")
		}

		deadline := inst.currentDeadline()
		deadline.Pause()
		content, found, err := m.skills.SkillContent(ctx, args[0])
		deadline.Resume()
		if err != nil {
			return "", fmt.Errorf("getSkill: %w", err)
		}
		if !found {
			// The wrapper maps the empty string to null.
			return "", nil
		}
		encoded, err := json.Marshal(content)
		if err != nil {
			return "", fmt.Errorf("getSkill: failed to encode content: %w", err)
		}
		return string(encoded), nil
	}
	return ectx.InstallHostFunction(hostFnGetSkill, skillFn, engine.HostFunctionOptions{Async: true})
}

// noSkills is the default SkillSource when none is configured.
type noSkills struct{}

func (noSkills) SkillContent(context.Context, string) (string, bool, error) {
	return "", false, nil
}
