// Package aggregate joins the stock and order feeds into per-product,
// per-warehouse metrics. All state is rebuilt from scratch every cycle;
// nothing here survives a session.
package aggregate

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/warehouse"
	"github.com/sellerpulse/stocksync/pkg/model"
)

// Engine computes the per-cycle aggregates. It owns no state beyond the
// session-scoped resolver it is given.
type Engine struct {
	logger   *zap.Logger
	resolver *warehouse.Resolver
}

func NewEngine(logger *zap.Logger, resolver *warehouse.Resolver) *Engine {
	return &Engine{logger: logger, resolver: resolver}
}

// groupKey joins a product with one canonical warehouse name.
type groupKey struct {
	product   model.ProductKey
	warehouse string
}

// Aggregate builds the canonical Product map:
//  1. canceled orders are discarded,
//  2. surviving orders are deduplicated by order id,
//  3. warehouse names are canonicalized and pseudo rows dropped,
//  4. stock and orders are grouped by (product, canonical warehouse),
//  5. each product's warehouse list is the union of names from both feeds,
//     missing sides defaulting to zero,
//  6. turnover is integer stock/orders days, zero when there are no orders.
func (e *Engine) Aggregate(orders []model.OrderRecord, stocks []model.StockRecord) map[model.ProductKey]*model.Product {
	stockByGroup := make(map[groupKey]int)
	ordersByGroup := make(map[groupKey]int)
	sellerFulfilled := make(map[string]bool)

	droppedPseudo := 0
	for _, s := range stocks {
		if e.resolver.IsPseudoWarehouse(s.WarehouseName) {
			droppedPseudo++
			continue
		}
		name := e.resolver.Canonicalize(s.WarehouseName)
		sellerFulfilled[name] = e.resolver.IsSellerFulfilled(s.WarehouseName)
		stockByGroup[groupKey{product: s.Key, warehouse: name}] += s.Quantity
	}

	canceled := 0
	duplicates := 0
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if o.Canceled {
			canceled++
			continue
		}
		if _, dup := seen[o.ID]; dup {
			duplicates++
			continue
		}
		seen[o.ID] = struct{}{}

		if e.resolver.IsPseudoWarehouse(o.WarehouseName) {
			droppedPseudo++
			continue
		}
		name := e.resolver.Canonicalize(o.WarehouseName)
		sellerFulfilled[name] = e.resolver.IsSellerFulfilled(o.WarehouseName)
		ordersByGroup[groupKey{product: o.Key, warehouse: name}]++
	}

	// Union of canonical names per product across both feeds.
	namesByProduct := make(map[model.ProductKey]map[string]struct{})
	addName := func(k groupKey) {
		names, ok := namesByProduct[k.product]
		if !ok {
			names = make(map[string]struct{})
			namesByProduct[k.product] = names
		}
		names[k.warehouse] = struct{}{}
	}
	for k := range stockByGroup {
		addName(k)
	}
	for k := range ordersByGroup {
		addName(k)
	}

	products := make(map[model.ProductKey]*model.Product, len(namesByProduct))
	for key, names := range namesByProduct {
		p := &model.Product{Key: key, Warehouses: make([]model.Warehouse, 0, len(names))}
		for name := range names {
			gk := groupKey{product: key, warehouse: name}
			w := model.Warehouse{
				Name:            name,
				SellerFulfilled: sellerFulfilled[name],
				Stock:           stockByGroup[gk],
				OrderCount:      ordersByGroup[gk],
			}
			w.TurnoverDays = turnover(w.Stock, w.OrderCount)
			p.Warehouses = append(p.Warehouses, w)
			p.TotalStock += w.Stock
			p.TotalOrders += w.OrderCount
		}
		// Stable ordering keeps sink columns aligned across cycles.
		sort.Slice(p.Warehouses, func(i, j int) bool {
			return p.Warehouses[i].Name < p.Warehouses[j].Name
		})
		products[key] = p
	}

	e.logger.Info("aggregate.cycle_complete",
		zap.Int("products", len(products)),
		zap.Int("orders_in", len(orders)),
		zap.Int("stocks_in", len(stocks)),
		zap.Int("canceled_dropped", canceled),
		zap.Int("duplicates_dropped", duplicates),
		zap.Int("pseudo_rows_dropped", droppedPseudo))

	return products
}

// turnover is the integer number of days current stock lasts at the observed
// order rate. Zero orders means zero, not infinity.
func turnover(stock, orderCount int) int {
	if orderCount == 0 {
		return 0
	}
	return stock / orderCount
}
