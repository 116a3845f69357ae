package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/apierr"
	"github.com/sellerpulse/stocksync/internal/metrics"
	"github.com/sellerpulse/stocksync/internal/rate"
	"github.com/sellerpulse/stocksync/internal/retry"
)

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
// Every outbound call passes through the endpoint+global token buckets, gets
// classified into the apierr taxonomy, and feeds throttle/success signals
// back into the limiter.
type Executor struct {
	logger  *zap.Logger
	rates   *rate.Manager
	retry   retry.Policy
	http    *http.Client
	apiTag  string
	headers map[string]string
}

// New creates an Executor. apiTag prefixes log events; headers are applied
// to every request (auth token, content type).
func New(
	logger *zap.Logger,
	rates *rate.Manager,
	policy retry.Policy,
	httpClient *http.Client,
	apiTag string,
	headers map[string]string,
) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Executor{
		logger:  logger,
		rates:   rates,
		retry:   policy,
		http:    httpClient,
		apiTag:  apiTag,
		headers: headers,
	}
}

// Request describes one JSON call. Endpoint keys the per-endpoint rate
// bucket; Body (if non-nil) is marshaled fresh for every attempt.
type Request struct {
	Method   string
	URL      string
	Query    url.Values
	Endpoint string
	Body     any
}

// DoJSON executes req with admission control and retries, then JSON-decodes
// the response into out (skipped when out is nil).
func (e *Executor) DoJSON(ctx context.Context, req Request, out any) error {
	return e.retry.Execute(ctx, e.logger, func(ctx context.Context) error {
		return e.once(ctx, req, out)
	})
}

func (e *Executor) once(ctx context.Context, req Request, out any) error {
	if e.rates != nil {
		if err := e.rates.Acquire(ctx, req.Endpoint); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var bodyReader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return apierr.Wrap(apierr.KindValidation, err, "encode request body")
		}
		bodyReader = bytes.NewReader(data)
	}

	fullURL := req.URL
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return apierr.Wrap(apierr.KindValidation, err, "build request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range e.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.http.Do(httpReq)
	if err != nil {
		e.logger.Warn(e.apiTag+".http_failed",
			zap.String("url", fullURL),
			zap.String("endpoint", req.Endpoint),
			zap.Error(err))
		metrics.IncOutboundRequest(e.apiTag, req.Endpoint, "error")
		if errors.Is(err, context.DeadlineExceeded) {
			return apierr.Wrap(apierr.KindTimeout, err, "request deadline")
		}
		return apierr.Wrap(apierr.KindNetwork, err, "http transport")
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	elapsed := time.Since(start)

	if resp.StatusCode >= 400 {
		classified := apierr.FromResponse(resp.StatusCode, body, resp.Header.Get("Retry-After"))
		if classified.Kind == apierr.KindRateLimit {
			metrics.IncThrottle(req.Endpoint)
			if e.rates != nil {
				e.rates.Throttle(req.Endpoint, classified.RetryAfter)
			}
		}
		metrics.IncOutboundRequest(e.apiTag, req.Endpoint, "error")
		e.logger.Warn(e.apiTag+".http_error",
			zap.Int("status", resp.StatusCode),
			zap.String("url", fullURL),
			zap.String("endpoint", req.Endpoint),
			zap.String("kind", classified.Kind.String()),
			zap.Duration("latency", elapsed))
		return classified
	}

	if e.rates != nil {
		e.rates.OnSuccess(req.Endpoint)
	}
	metrics.IncOutboundRequest(e.apiTag, req.Endpoint, "ok")

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			e.logger.Warn(e.apiTag+".decode_failed",
				zap.Error(err),
				zap.String("url", fullURL))
			return apierr.Wrap(apierr.KindValidation, err, "decode response")
		}
	}

	e.logger.Debug(e.apiTag+".http_success",
		zap.String("url", fullURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))

	return nil
}
