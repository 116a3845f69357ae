package sink

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sellerpulse/stocksync/pkg/model"
)

// Header is the first sink row. The four breakdown columns carry one
// delimited entry per warehouse, in the same order in every column.
var Header = []any{
	"Seller article",
	"Marketplace article",
	"Total stock",
	"Total orders",
	"Warehouses",
	"Stock by warehouse",
	"Orders by warehouse",
	"Turnover by warehouse",
}

const breakdownSep = "; "

// Rows renders products as sink rows, one per product, sorted by seller
// article so the sheet stays stable across cycles.
func Rows(products map[model.ProductKey]*model.Product) [][]any {
	keys := make([]model.ProductKey, 0, len(products))
	for k := range products {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SellerArticle != keys[j].SellerArticle {
			return keys[i].SellerArticle < keys[j].SellerArticle
		}
		return keys[i].MarketplaceArticle < keys[j].MarketplaceArticle
	})

	rows := make([][]any, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, productRow(products[k]))
	}
	return rows
}

// productRow keeps the breakdown columns index-aligned: position i in each
// column refers to the same warehouse.
func productRow(p *model.Product) []any {
	names := make([]string, 0, len(p.Warehouses))
	stocks := make([]string, 0, len(p.Warehouses))
	orders := make([]string, 0, len(p.Warehouses))
	turnovers := make([]string, 0, len(p.Warehouses))
	for _, w := range p.Warehouses {
		names = append(names, w.Name)
		stocks = append(stocks, strconv.Itoa(w.Stock))
		orders = append(orders, strconv.Itoa(w.OrderCount))
		turnovers = append(turnovers, strconv.Itoa(w.TurnoverDays))
	}

	return []any{
		p.Key.SellerArticle,
		p.Key.MarketplaceArticle,
		p.TotalStock,
		p.TotalOrders,
		strings.Join(names, breakdownSep),
		strings.Join(stocks, breakdownSep),
		strings.Join(orders, breakdownSep),
		strings.Join(turnovers, breakdownSep),
	}
}

// RangeFor names the write range for a batch of rows starting at startRow
// (1-based, row 1 is the header).
func RangeFor(sheet string, startRow, count int) string {
	return sheet + "!A" + strconv.Itoa(startRow) + ":H" + strconv.Itoa(startRow+count-1)
}
