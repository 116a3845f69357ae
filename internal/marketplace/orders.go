package marketplace

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/apierr"
	"github.com/sellerpulse/stocksync/pkg/model"
)

// Order feed flag values: select by last-change timestamp or by original
// event date.
const (
	FlagByLastChange = 0
	FlagByEventDate  = 1
)

// ordersClient narrows Client for tests.
type ordersClient interface {
	FetchOrders(ctx context.Context, dateFrom string, flag int) ([]OrderEventRow, error)
}

// OrderFeedClient wraps the direct paged order-events fetch.
type OrderFeedClient struct {
	logger *zap.Logger
	client ordersClient
	mapper *Mapper
}

func NewOrderFeedClient(logger *zap.Logger, client *Client) *OrderFeedClient {
	return &OrderFeedClient{
		logger: logger,
		client: client,
		mapper: NewMapper(logger),
	}
}

// Fetch validates dateFrom and pulls the feed. A malformed date is a
// validation error and is never dispatched upstream.
func (o *OrderFeedClient) Fetch(ctx context.Context, dateFrom string, flag int) ([]model.OrderRecord, error) {
	if err := validateDateFrom(dateFrom); err != nil {
		return nil, err
	}
	if flag != FlagByLastChange && flag != FlagByEventDate {
		return nil, apierr.Newf(apierr.KindValidation, "flag must be 0 or 1, got %d", flag)
	}

	rows, err := o.client.FetchOrders(ctx, dateFrom, flag)
	if err != nil {
		return nil, err
	}

	records := o.mapper.ToOrderRecords(rows)
	o.logger.Info("mkt.orders_fetched",
		zap.String("date_from", dateFrom),
		zap.Int("flag", flag),
		zap.Int("rows", len(rows)),
		zap.Int("records", len(records)))
	return records, nil
}

// validateDateFrom accepts a calendar date or an RFC3339 timestamp.
func validateDateFrom(s string) error {
	if s == "" {
		return apierr.New(apierr.KindValidation, "dateFrom is required")
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if _, err := time.Parse(layout, s); err == nil {
			return nil
		}
	}
	return apierr.Newf(apierr.KindValidation, "dateFrom %q is not a valid date", s)
}
