package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/verdict-labs/verdict-go/internal/domain"
)

// echoTarget returns a row value verbatim. Options: "field" selects
// the row column (default "input"); "value" overrides with a constant.
type echoTarget struct {
	field string
	value *string
}

func newEchoTarget(cfg domain.TargetConfig) (*echoTarget, error) {
	t := &echoTarget{field: optionString(cfg.Options, "field", "input")}
	if cfg.Options != nil {
		if raw, ok := cfg.Options["value"].(string); ok {
			t.value = &raw
		}
	}
	return t, nil
}

func (t *echoTarget) Run(_ context.Context, cell domain.ExecutionCell) (domain.TargetResult, error) {
	if t.value != nil {
		return domain.TargetResult{Output: *t.value}, nil
	}
	return domain.TargetResult{Output: cell.Row[t.field]}, nil
}

// templateTarget renders a text/template against the row values.
type templateTarget struct {
	tmpl *template.Template
}

func newTemplateTarget(cfg domain.TargetConfig) (*templateTarget, error) {
	raw := optionString(cfg.Options, "template", "")
	if raw == "" {
		return nil, errors.New("template option is required")
	}
	tmpl, err := template.New(cfg.ID).Option("missingkey=zero").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &templateTarget{tmpl: tmpl}, nil
}

func (t *templateTarget) Run(_ context.Context, cell domain.ExecutionCell) (domain.TargetResult, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, map[string]any(cell.Row)); err != nil {
		return domain.TargetResult{}, fmt.Errorf("render template: %w", err)
	}
	return domain.TargetResult{Output: buf.String()}, nil
}

// httpTarget POSTs the row as JSON to a configured endpoint and
// returns the response body. Options: "url" (required), "method",
// "headers" (map of string), "cost_per_call".
type httpTarget struct {
	url     string
	method  string
	headers map[string]string
	cost    float64
	client  *http.Client
}

func newHTTPTarget(cfg domain.TargetConfig, client *http.Client) (*httpTarget, error) {
	url := optionString(cfg.Options, "url", "")
	if url == "" {
		return nil, errors.New("url option is required")
	}

	t := &httpTarget{
		url:    url,
		method: strings.ToUpper(optionString(cfg.Options, "method", http.MethodPost)),
		client: client,
	}
	if cfg.Options != nil {
		if raw, ok := cfg.Options["headers"].(map[string]any); ok {
			t.headers = make(map[string]string, len(raw))
			for name, value := range raw {
				if s, ok := value.(string); ok {
					t.headers[name] = s
				}
			}
		}
		switch cost := cfg.Options["cost_per_call"].(type) {
		case float64:
			t.cost = cost
		case int:
			t.cost = float64(cost)
		}
	}
	return t, nil
}

func (t *httpTarget) Run(ctx context.Context, cell domain.ExecutionCell) (domain.TargetResult, error) {
	payload, err := json.Marshal(cell.Row)
	if err != nil {
		return domain.TargetResult{}, fmt.Errorf("marshal row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, t.method, t.url, bytes.NewReader(payload))
	if err != nil {
		return domain.TargetResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range t.headers {
		req.Header.Set(name, value)
	}

	started := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return domain.TargetResult{}, fmt.Errorf("call target: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return domain.TargetResult{}, fmt.Errorf("read response: %w", err)
	}
	result := domain.TargetResult{
		Output:     string(body),
		Cost:       t.cost,
		DurationMs: time.Since(started).Milliseconds(),
		TraceID:    resp.Header.Get("X-Trace-Id"),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.TargetResult{}, fmt.Errorf("target returned %d", resp.StatusCode)
	}
	return result, nil
}
