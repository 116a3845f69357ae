package model

import "time"

// ProductKey is the composite identity joining the stock and order feeds:
// the seller's own article code plus the marketplace-assigned numeric article.
type ProductKey struct {
	SellerArticle      string `json:"sellerArticle"`
	MarketplaceArticle int64  `json:"marketplaceArticle"`
}

// StockRecord is one row of the bulk stock report, scoped to a single
// raw warehouse label. Fetched fresh every cycle.
type StockRecord struct {
	Key           ProductKey `json:"key"`
	WarehouseName string     `json:"warehouseName"`
	Quantity      int        `json:"quantity"`
}

// OrderRecord is one order event from the order feed.
// ID is unique per order; the feed may deliver the same order twice.
type OrderRecord struct {
	ID            string     `json:"id"`
	Key           ProductKey `json:"key"`
	WarehouseName string     `json:"warehouseName"`
	WarehouseType string     `json:"warehouseType"`
	Canceled      bool       `json:"canceled"`
	EventTime     time.Time  `json:"eventTime"`
}

// Warehouse is the canonical per-warehouse aggregate owned by a Product.
// TurnoverDays = Stock / OrderCount using integer division, 0 when no orders.
type Warehouse struct {
	Name            string `json:"name"`
	SellerFulfilled bool   `json:"sellerFulfilled"`
	Stock           int    `json:"stock"`
	OrderCount      int    `json:"orderCount"`
	TurnoverDays    int    `json:"turnoverDays"`
}

// Product is the per-cycle aggregate for one catalog item. Warehouses holds
// one entry for every canonical name seen in either feed, sorted by name so
// downstream sink columns stay aligned.
type Product struct {
	Key         ProductKey  `json:"key"`
	Warehouses  []Warehouse `json:"warehouses"`
	TotalStock  int         `json:"totalStock"`
	TotalOrders int         `json:"totalOrders"`
}
