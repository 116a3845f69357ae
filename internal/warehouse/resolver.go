// Package warehouse reconciles the warehouse labels used by the two
// marketplace feeds. The stock report and the order feed name the same
// physical warehouse differently ("Koledino" vs "Коледино WB", "МП" vs
// "Marketplace"), so aggregation joins on the canonical name produced here.
package warehouse

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SellerFulfilledName is the single canonical bucket for every
// seller-fulfilled (FBS) warehouse variant.
const SellerFulfilledName = "Marketplace"

// canonicalVariants maps each canonical physical-warehouse name to the raw
// labels the feeds have been observed to use for it. Matching is
// case-insensitive exact/prefix/suffix.
var canonicalVariants = map[string][]string{
	"Коледино":        {"коледино", "koledino", "коледино wb"},
	"Подольск":        {"подольск", "podolsk"},
	"Электросталь":    {"электросталь", "elektrostal", "электросталь wb"},
	"Казань":          {"казань", "kazan"},
	"Екатеринбург":    {"екатеринбург", "ekaterinburg", "екб"},
	"Санкт-Петербург": {"санкт-петербург", "спб", "питер", "st. petersburg", "saint petersburg"},
	"Краснодар":       {"краснодар", "krasnodar"},
	"Новосибирск":     {"новосибирск", "novosibirsk"},
	"Хабаровск":       {"хабаровск", "khabarovsk"},
	"Тула":            {"тула", "tula"},
	"Невинномысск":    {"невинномысск", "nevinnomyssk"},
	"Белые Столбы":    {"белые столбы", "belye stolby"},
}

// sellerKeywords identify seller-fulfilled warehouses across both feeds.
// Matched as whole label or substring after lowering.
var sellerKeywords = []string{
	"маркетплейс", "marketplace", "мп", "fbs",
	"склад продавца", "склад поставщика", "seller",
}

// pseudoLabels are delivery-status or aggregate rows that must never become
// Warehouse entities.
var pseudoLabels = []string{
	"в пути", "in transit", "итого", "всего", "total",
	"до клиента", "от клиента", "транзит",
}

// stripTokens are generic prefixes/suffixes removed during the light
// normalization fallback.
var stripTokens = []string{"склад", "warehouse", "branch", "филиал", "wb"}

// Resolution is the cached outcome for one raw label.
type Resolution struct {
	Canonical       string
	SellerFulfilled bool
	Pseudo          bool
	Mapped          bool
}

// Resolver canonicalizes raw warehouse labels. One instance is constructed
// per sync session: marketplace naming drifts, so the cache must not outlive
// a cycle.
type Resolver struct {
	logger *zap.Logger

	mu       sync.RWMutex
	cache    map[string]Resolution
	unmapped map[string]int
}

// NewResolver creates a resolver with an empty per-session cache.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{
		logger:   logger,
		cache:    make(map[string]Resolution),
		unmapped: make(map[string]int),
	}
}

// Canonicalize returns the canonical name for a raw label. Unresolvable
// labels pass through unchanged.
func (r *Resolver) Canonicalize(raw string) string {
	return r.resolve(raw).Canonical
}

// IsSellerFulfilled reports whether the label denotes seller-held inventory.
func (r *Resolver) IsSellerFulfilled(raw string) bool {
	return r.resolve(raw).SellerFulfilled
}

// IsPseudoWarehouse reports whether the label is an aggregate/status row
// rather than a real storage location.
func (r *Resolver) IsPseudoWarehouse(raw string) bool {
	return r.resolve(raw).Pseudo
}

// Unmapped returns the labels that fell through every matching stage this
// session, with occurrence counts.
func (r *Resolver) Unmapped() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.unmapped))
	for k, v := range r.unmapped {
		out[k] = v
	}
	return out
}

func (r *Resolver) resolve(raw string) Resolution {
	r.mu.RLock()
	res, ok := r.cache[raw]
	r.mu.RUnlock()
	if ok {
		return res
	}

	res = classify(raw)

	r.mu.Lock()
	r.cache[raw] = res
	if !res.Mapped && !res.Pseudo {
		r.unmapped[raw]++
		r.mu.Unlock()
		r.logger.Debug("warehouse.unmapped_name", zap.String("raw", raw))
		return res
	}
	r.mu.Unlock()
	return res
}

// classify runs the matching stages in priority order: pseudo filter,
// variant table, seller keywords, normalization fallback.
func classify(raw string) Resolution {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if lowered == "" {
		return Resolution{Canonical: raw}
	}

	for _, label := range pseudoLabels {
		if strings.Contains(lowered, label) {
			return Resolution{Canonical: raw, Pseudo: true}
		}
	}

	if canonical, ok := matchVariants(lowered); ok {
		return Resolution{Canonical: canonical, Mapped: true}
	}

	if matchesSellerKeyword(lowered) {
		return Resolution{Canonical: SellerFulfilledName, SellerFulfilled: true, Mapped: true}
	}

	normalized := normalize(lowered)
	if canonical, ok := matchVariants(normalized); ok {
		return Resolution{Canonical: canonical, Mapped: true}
	}
	for canonical := range canonicalVariants {
		if normalized != "" && strings.Contains(strings.ToLower(canonical), normalized) {
			return Resolution{Canonical: canonical, Mapped: true}
		}
	}

	return Resolution{Canonical: raw}
}

func matchVariants(lowered string) (string, bool) {
	for canonical, variants := range canonicalVariants {
		if strings.EqualFold(canonical, lowered) {
			return canonical, true
		}
		for _, v := range variants {
			if lowered == v || strings.HasPrefix(lowered, v) || strings.HasSuffix(lowered, v) {
				return canonical, true
			}
		}
	}
	return "", false
}

func matchesSellerKeyword(lowered string) bool {
	for _, kw := range sellerKeywords {
		if lowered == kw {
			return true
		}
		// Short keywords like "мп" only match as the whole label or a
		// delimited prefix, otherwise they fire inside unrelated words.
		if len([]rune(kw)) <= 3 {
			if strings.HasPrefix(lowered, kw+" ") || strings.HasPrefix(lowered, kw+"-") {
				return true
			}
			continue
		}
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	// The canonical seller bucket itself.
	return strings.HasPrefix(lowered, strings.ToLower(SellerFulfilledName))
}

// normalize strips generic warehouse tokens and collapses whitespace.
func normalize(lowered string) string {
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '(' || r == ')' || r == ','
	})
	kept := fields[:0]
	for _, f := range fields {
		skip := false
		for _, tok := range stripTokens {
			if f == tok {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
