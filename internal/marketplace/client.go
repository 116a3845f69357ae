package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/apierr"
	"github.com/sellerpulse/stocksync/internal/httpclient"
	"github.com/sellerpulse/stocksync/internal/rate"
	"github.com/sellerpulse/stocksync/internal/retry"
)

// Rate-limiter endpoint keys. Each gets its own token bucket on top of the
// shared global one.
const (
	EndpointReportCreate   = "report_create"
	EndpointReportDownload = "report_download"
	EndpointOrders         = "orders"
)

// ErrNotReady is returned by DownloadReport while the report task is still
// being generated server-side.
var ErrNotReady = errors.New("report task not ready")

// ClientConfig carries the per-seller connection settings.
type ClientConfig struct {
	BaseURL  string
	APIToken string
}

// Client is the typed HTTP client for the marketplace statistics API. All
// calls go through the shared executor (rate limiting + retries + error
// classification).
type Client struct {
	logger *zap.Logger
	cfg    ClientConfig
	exec   *httpclient.Executor
}

// NewClient constructs a marketplace client for one seller account.
func NewClient(logger *zap.Logger, cfg ClientConfig, rates *rate.Manager, policy retry.Policy) *Client {
	exec := httpclient.New(
		logger,
		rates,
		policy,
		&http.Client{Timeout: 90 * time.Second},
		"mkt",
		map[string]string{"Authorization": cfg.APIToken},
	)
	return &Client{logger: logger, cfg: cfg, exec: exec}
}

// CreateReportTask submits a bulk stock-report task grouped by marketplace
// article and seller article, returning the server-assigned task id.
func (c *Client) CreateReportTask(ctx context.Context) (string, error) {
	query := url.Values{}
	query.Set("groupByNm", "true")
	query.Set("groupBySa", "true")

	var resp createTaskResponse
	err := c.exec.DoJSON(ctx, httpclient.Request{
		Method:   http.MethodPost,
		URL:      c.cfg.BaseURL + "/api/v1/warehouse-remains/tasks",
		Query:    query,
		Endpoint: EndpointReportCreate,
	}, &resp)
	if err != nil {
		return "", err
	}

	c.logger.Info("mkt.report_task_created",
		zap.String("task_id", resp.Data.TaskID))
	return resp.Data.TaskID, nil
}

// DownloadReport attempts to fetch the generated report. While the task is
// still processing it returns ErrNotReady; any other failure is a classified
// terminal error for the caller to handle.
func (c *Client) DownloadReport(ctx context.Context, taskID string) ([]StockReportRow, error) {
	var resp reportDownloadResponse
	err := c.exec.DoJSON(ctx, httpclient.Request{
		Method:   http.MethodGet,
		URL:      c.cfg.BaseURL + "/api/v1/warehouse-remains/tasks/" + taskID + "/download",
		Endpoint: EndpointReportDownload,
	}, &resp)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case reportStatusProcessing, reportStatusNew:
		return nil, ErrNotReady
	case reportStatusDone, "":
		// Older API revisions omit the status field and return bare data.
		return resp.Data, nil
	default:
		return nil, apierr.Newf(apierr.KindServer, "report task failed server-side: %s", resp.Status)
	}
}

// FetchOrders pulls the order-events feed starting at dateFrom. flag=0
// selects by last-change timestamp, flag=1 by the original event date.
func (c *Client) FetchOrders(ctx context.Context, dateFrom string, flag int) ([]OrderEventRow, error) {
	query := url.Values{}
	query.Set("dateFrom", dateFrom)
	if flag != 0 {
		query.Set("flag", "1")
	} else {
		query.Set("flag", "0")
	}

	var rows []OrderEventRow
	err := c.exec.DoJSON(ctx, httpclient.Request{
		Method:   http.MethodGet,
		URL:      c.cfg.BaseURL + "/api/v1/supplier/orders",
		Query:    query,
		Endpoint: EndpointOrders,
	}, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
