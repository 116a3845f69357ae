package marketplace

import (
	"time"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/pkg/model"
)

// Mapper converts wire rows into domain records, dropping rows that lack the
// composite product key (both feeds occasionally emit service rows without
// article identifiers).
type Mapper struct {
	logger *zap.Logger
}

func NewMapper(logger *zap.Logger) *Mapper {
	return &Mapper{logger: logger}
}

// ToStockRecords maps report rows to domain stock records. Negative
// quantities are clamped to zero.
func (m *Mapper) ToStockRecords(rows []StockReportRow) []model.StockRecord {
	out := make([]model.StockRecord, 0, len(rows))
	dropped := 0
	for _, r := range rows {
		if r.SellerArticle == "" && r.MarketplaceArticle == 0 {
			dropped++
			continue
		}
		qty := r.Quantity
		if qty < 0 {
			qty = 0
		}
		out = append(out, model.StockRecord{
			Key: model.ProductKey{
				SellerArticle:      r.SellerArticle,
				MarketplaceArticle: r.MarketplaceArticle,
			},
			WarehouseName: r.WarehouseName,
			Quantity:      qty,
		})
	}
	if dropped > 0 {
		m.logger.Warn("mkt.stock_rows_dropped", zap.Int("count", dropped))
	}
	return out
}

// ToOrderRecords maps order-event rows to domain order records. Rows without
// an order id cannot be deduplicated and are dropped.
func (m *Mapper) ToOrderRecords(rows []OrderEventRow) []model.OrderRecord {
	out := make([]model.OrderRecord, 0, len(rows))
	dropped := 0
	for _, r := range rows {
		if r.SRID == "" || (r.SellerArticle == "" && r.MarketplaceArticle == 0) {
			dropped++
			continue
		}
		out = append(out, model.OrderRecord{
			ID: r.SRID,
			Key: model.ProductKey{
				SellerArticle:      r.SellerArticle,
				MarketplaceArticle: r.MarketplaceArticle,
			},
			WarehouseName: r.WarehouseName,
			WarehouseType: r.WarehouseType,
			Canceled:      r.IsCancel,
			EventTime:     parseEventTime(r.Date),
		})
	}
	if dropped > 0 {
		m.logger.Warn("mkt.order_rows_dropped", zap.Int("count", dropped))
	}
	return out
}

// parseEventTime accepts the timestamp layouts the feed has been observed to
// use; a zero time means unparseable, which downstream treats as unknown.
func parseEventTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
