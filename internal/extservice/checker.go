// Package extservice resolves the out-of-band HTTP checks attached to actions.
// A check either runs once (stateless) or repeats until it matches or its
// time budget is spent (polling).
package extservice

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/expr-lang/expr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/config"
	"github.com/xkilldash9x/flowreplay/internal/observability"
	"github.com/xkilldash9x/flowreplay/internal/poll"
)

const (
	defaultPollInterval = 2 * time.Second
	maxBodyBytes        = 10 << 20
)

// Checker performs external service checks. It is safe for concurrent use.
type Checker struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) { ch.client = c }
}

// WithMetrics records polling attempts.
func WithMetrics(m *observability.Metrics) Option {
	return func(ch *Checker) { ch.metrics = m }
}

// NewChecker builds a checker paced by cfg.RateLimit requests per second.
func NewChecker(logger *zap.Logger, cfg config.ExternalConfig, opts ...Option) *Checker {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Checker{
		logger:  logger.Named("extservice"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// response is a fully read and decoded reply.
type response struct {
	status  int
	headers http.Header
	body    []byte
}

// Check runs svc with vars substituted into its URL, headers and body.
func (c *Checker) Check(ctx context.Context, svc *schemas.ExternalService, vars map[string]string) error {
	if svc == nil {
		return nil
	}
	req, err := expand(svc, vars)
	if err != nil {
		return err
	}
	log := c.logger.With(zap.String("method", req.Method), zap.String("url", req.URL), zap.String("type", string(svc.Type)))

	if svc.Type != schemas.ServicePolling {
		resp, err := c.do(ctx, req)
		if err != nil {
			return err
		}
		if err := verify(req, resp); err != nil {
			return err
		}
		log.Info("External service matched.", zap.Int("status", resp.status))
		return nil
	}

	interval, budget := defaultPollInterval, c.timeout
	if po := svc.PollingOptions; po != nil {
		if po.Interval > 0 {
			interval = po.Interval.Std()
		}
		if po.Timeout > 0 {
			budget = po.Timeout.Std()
		}
	}
	maxAttempts := int(budget/interval) + 1

	pollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var last error
	attempts := 0
	err = poll.Until(pollCtx, func(ctx context.Context, attempt int) (bool, error) {
		attempts = attempt
		c.metrics.PollAttempt("external_service")
		resp, err := c.do(ctx, req)
		if err == nil {
			err = verify(req, resp)
		}
		if err != nil {
			var invalid *InvalidCheckError
			if errors.As(err, &invalid) {
				return false, err
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			last = err
			log.Debug("External service not matched yet.", zap.Int("attempt", attempt), zap.Error(err))
			return false, nil
		}
		log.Info("External service matched.", zap.Int("status", resp.status), zap.Int("attempt", attempt))
		return true, nil
	}, nil, interval, maxAttempts)

	budgetSpent := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
	if errors.Is(err, poll.ErrExhausted) || budgetSpent {
		return &TimeoutError{Method: req.Method, URL: req.URL, Attempts: attempts, Timeout: budget, Last: last}
	}
	return err
}

// request is an ExternalService with templates resolved.
type request struct {
	Method         string
	URL            string
	Headers        map[string]string
	Body           []byte
	ExpectedStatus int
	ExpectedBody   []byte
	Condition      string
}

func expand(svc *schemas.ExternalService, vars map[string]string) (*request, error) {
	r := &request{
		Method:         strings.ToUpper(svc.Method),
		Headers:        make(map[string]string, len(svc.Headers)),
		ExpectedStatus: svc.ExpectedStatus,
		Condition:      svc.Condition,
	}
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	var err error
	if r.URL, err = render("url", svc.URL, vars); err != nil {
		return nil, err
	}
	for k, v := range svc.Headers {
		if r.Headers[k], err = render("header "+k, v, vars); err != nil {
			return nil, err
		}
	}
	if len(svc.Body) > 0 {
		body, err := render("body", string(svc.Body), vars)
		if err != nil {
			return nil, err
		}
		r.Body = []byte(body)
	}
	if len(svc.ExpectedBody) > 0 {
		body, err := render("expectedBody", string(svc.ExpectedBody), vars)
		if err != nil {
			return nil, err
		}
		r.ExpectedBody = []byte(body)
	}
	return r, nil
}

func render(name, text string, vars map[string]string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("expanding %s: %w", name, err)
	}
	return buf.String(), nil
}

func (c *Checker) do(ctx context.Context, r *request) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range r.Headers {
		httpReq.Header.Set(k, v)
	}
	if r.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s %s: %w", r.Method, r.URL, err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", r.URL, err)
	}
	return &response{status: resp.StatusCode, headers: resp.Header, body: data}, nil
}

// readBody undoes the content encodings requested in Accept-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(io.LimitReader(reader, maxBodyBytes))
}

func verify(r *request, resp *response) error {
	mismatch := func(reason string) error {
		return &MismatchError{Method: r.Method, URL: r.URL, Status: resp.status, Reason: reason}
	}

	if r.ExpectedStatus != 0 {
		if resp.status != r.ExpectedStatus {
			return mismatch(fmt.Sprintf("expected status %d", r.ExpectedStatus))
		}
	} else if resp.status < 200 || resp.status > 299 {
		return mismatch("expected a 2xx status")
	}

	if len(r.ExpectedBody) > 0 {
		diff, err := BodyDiff(r.ExpectedBody, resp.body, DefaultCompareOptions())
		if err != nil {
			return &InvalidCheckError{Err: err}
		}
		if diff != "" {
			return mismatch("body differs (-expected +actual):\n" + diff)
		}
	}

	if r.Condition != "" {
		ok, err := evalCondition(r.Condition, resp)
		if err != nil {
			return err
		}
		if !ok {
			return mismatch(fmt.Sprintf("condition %q is false", r.Condition))
		}
	}
	return nil
}

// evalCondition runs an expr-lang boolean over status, body and headers.
// Header names are lower-cased; body is the decoded JSON, or the raw text
// when the response is not JSON.
func evalCondition(condition string, resp *response) (bool, error) {
	var body interface{}
	if err := json.Unmarshal(resp.body, &body); err != nil {
		body = string(resp.body)
	}
	headers := make(map[string]string, len(resp.headers))
	for k := range resp.headers {
		headers[strings.ToLower(k)] = resp.headers.Get(k)
	}
	env := map[string]interface{}{
		"status":  resp.status,
		"body":    body,
		"headers": headers,
	}

	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, &InvalidCheckError{Err: fmt.Errorf("compile condition %q: %w", condition, err)}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", condition, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", condition, out)
	}
	return result, nil
}
