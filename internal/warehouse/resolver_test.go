package warehouse

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolver_Canonicalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{name: "exact canonical", raw: "Коледино", expected: "Коледино"},
		{name: "latin variant", raw: "Koledino", expected: "Коледино"},
		{name: "variant with suffix", raw: "Коледино WB", expected: "Коледино"},
		{name: "case insensitive", raw: "KAZAN", expected: "Казань"},
		{name: "spb abbreviation", raw: "СПб", expected: "Санкт-Петербург"},
		{name: "strip token fallback", raw: "Склад Тула", expected: "Тула"},
		{name: "unknown passes through", raw: "Новый Уренгой", expected: "Новый Уренгой"},
		{name: "empty passes through", raw: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(zap.NewNop())
			assert.Equal(t, tt.expected, r.Canonicalize(tt.raw))
		})
	}
}

func TestResolver_CanonicalizeIdempotent(t *testing.T) {
	r := NewResolver(zap.NewNop())
	names := []string{"Marketplace", "Коледино", "Казань", "Санкт-Петербург"}
	for _, name := range names {
		canonical := r.Canonicalize(name)
		assert.Equal(t, canonical, r.Canonicalize(canonical),
			"canonicalizing %q twice must be stable", name)
	}
	assert.Equal(t, "Marketplace", r.Canonicalize("Marketplace"))
}

func TestResolver_SellerFulfilledVariants(t *testing.T) {
	// Every seller-fulfilled variant lands in the single shared bucket.
	variants := []string{"Marketplace", "Marketplace-1", "МП", "FBS", "Склад продавца", "маркетплейс"}

	r := NewResolver(zap.NewNop())
	for _, raw := range variants {
		assert.Equal(t, SellerFulfilledName, r.Canonicalize(raw), "raw %q", raw)
		assert.True(t, r.IsSellerFulfilled(raw), "raw %q must be seller-fulfilled", raw)
	}
}

func TestResolver_OperatorWarehousesNotSellerFulfilled(t *testing.T) {
	r := NewResolver(zap.NewNop())
	for _, raw := range []string{"Коледино", "Kazan", "Тула"} {
		assert.False(t, r.IsSellerFulfilled(raw), "raw %q", raw)
	}
}

func TestResolver_ShortKeywordNeedsWholeLabel(t *testing.T) {
	// "мп" inside an unrelated word must not classify as seller-fulfilled.
	r := NewResolver(zap.NewNop())
	assert.False(t, r.IsSellerFulfilled("Кемпинг"))
	assert.True(t, r.IsSellerFulfilled("МП"))
	assert.True(t, r.IsSellerFulfilled("МП Москва"))
}

func TestResolver_PseudoWarehouses(t *testing.T) {
	tests := []struct {
		raw    string
		pseudo bool
	}{
		{raw: "В пути до клиента", pseudo: true},
		{raw: "В пути от клиента", pseudo: true},
		{raw: "Итого по складам", pseudo: true},
		{raw: "Всего находится на складах", pseudo: true},
		{raw: "In transit to customer", pseudo: true},
		{raw: "Total", pseudo: true},
		{raw: "Коледино", pseudo: false},
		{raw: "Marketplace", pseudo: false},
	}

	r := NewResolver(zap.NewNop())
	for _, tt := range tests {
		assert.Equal(t, tt.pseudo, r.IsPseudoWarehouse(tt.raw), "raw %q", tt.raw)
	}
}

func TestResolver_UnmappedTracked(t *testing.T) {
	r := NewResolver(zap.NewNop())

	r.Canonicalize("Загадочный Склад X")
	r.Canonicalize("Загадочный Склад X")
	r.Canonicalize("Коледино")

	unmapped := r.Unmapped()
	require.Len(t, unmapped, 1)
	// Cache hit on the second lookup: counted once per distinct raw string.
	assert.Equal(t, 1, unmapped["Загадочный Склад X"])
}

func TestResolver_CacheIsPerInstance(t *testing.T) {
	// A fresh resolver (new session) starts with no memory of prior labels.
	r1 := NewResolver(zap.NewNop())
	r1.Canonicalize("Неизвестный")
	require.Len(t, r1.Unmapped(), 1)

	r2 := NewResolver(zap.NewNop())
	assert.Empty(t, r2.Unmapped())
}

func TestResolver_ConcurrentAccess(t *testing.T) {
	r := NewResolver(zap.NewNop())
	labels := []string{"Коледино", "МП", "В пути", "Kazan", "Mystery", "Тула WB"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := labels[i%len(labels)]
			_ = r.Canonicalize(raw)
			_ = r.IsSellerFulfilled(raw)
			_ = r.IsPseudoWarehouse(raw)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, "Коледино", r.Canonicalize("Коледино"))
}
