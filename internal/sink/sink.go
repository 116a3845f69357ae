// Package sink is the boundary to the external report sink. The sink itself
// lives elsewhere; this package only speaks its batch read/write contract of
// named value ranges and maps aggregated products onto rows.
package sink

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/apierr"
	"github.com/sellerpulse/stocksync/internal/httpclient"
	"github.com/sellerpulse/stocksync/internal/rate"
	"github.com/sellerpulse/stocksync/internal/retry"
)

// Rate-limiter endpoint keys for the sink side.
const (
	EndpointRead  = "sink_read"
	EndpointWrite = "sink_write"
)

// ValueRange is one named cell range with its row values.
type ValueRange struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

// Client is the batch read/write contract the dispatcher writes through.
type Client interface {
	BatchRead(ctx context.Context, ranges []string) ([]ValueRange, error)
	BatchWrite(ctx context.Context, ranges []ValueRange) error
}

// HTTPConfig carries the sink connection settings.
type HTTPConfig struct {
	BaseURL    string
	APIToken   string
	DocumentID string
}

// HTTPClient implements Client against the sink's HTTP values API, going
// through the shared executor for rate limiting and retries.
type HTTPClient struct {
	logger *zap.Logger
	cfg    HTTPConfig
	exec   *httpclient.Executor
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(logger *zap.Logger, cfg HTTPConfig, rates *rate.Manager, policy retry.Policy) *HTTPClient {
	exec := httpclient.New(
		logger,
		rates,
		policy,
		&http.Client{Timeout: 60 * time.Second},
		"sink",
		map[string]string{"Authorization": "Bearer " + cfg.APIToken},
	)
	return &HTTPClient{logger: logger, cfg: cfg, exec: exec}
}

type batchReadRequest struct {
	Ranges []string `json:"ranges"`
}

type batchReadResponse struct {
	ValueRanges []ValueRange `json:"valueRanges"`
}

type batchWriteRequest struct {
	Data []ValueRange `json:"data"`
}

// BatchRead fetches the current contents of the named ranges.
func (c *HTTPClient) BatchRead(ctx context.Context, ranges []string) ([]ValueRange, error) {
	var resp batchReadResponse
	err := c.exec.DoJSON(ctx, httpclient.Request{
		Method:   http.MethodPost,
		URL:      c.cfg.BaseURL + "/api/v1/documents/" + c.cfg.DocumentID + "/values:batchGet",
		Endpoint: EndpointRead,
		Body:     batchReadRequest{Ranges: ranges},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.ValueRanges, nil
}

// BatchWrite replaces the named ranges with the given values. Failures are
// surfaced as sink-write errors so the retry policy keeps retrying them.
func (c *HTTPClient) BatchWrite(ctx context.Context, ranges []ValueRange) error {
	err := c.exec.DoJSON(ctx, httpclient.Request{
		Method:   http.MethodPost,
		URL:      c.cfg.BaseURL + "/api/v1/documents/" + c.cfg.DocumentID + "/values:batchUpdate",
		Endpoint: EndpointWrite,
		Body:     batchWriteRequest{Data: ranges},
	}, nil)
	if err != nil {
		if apierr.Retryable(err) {
			return apierr.Wrap(apierr.KindSinkWrite, err, "sink batch write")
		}
		return err
	}

	rows := 0
	for _, r := range ranges {
		rows += len(r.Values)
	}
	c.logger.Debug("sink.batch_written",
		zap.Int("ranges", len(ranges)),
		zap.Int("rows", rows))
	return nil
}
