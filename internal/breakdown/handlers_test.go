package breakdown_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-refunds/internal/breakdown"
	"github.com/noah-isme/toko-refunds/internal/events"
	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

func newRouter(t *testing.T, store *orderitem.Store, mem *events.MemoryStore) http.Handler {
	t.Helper()
	h := &breakdown.Handler{Store: store, Formatter: pricing.Formatter{Currency: "USD", Locale: "en-US"}, EventStore: mem}
	r := chi.NewRouter()
	r.Get("/api/v1/items", h.List)
	r.Get("/api/v1/items/{itemId}", h.Get)
	r.Get("/api/v1/items/{itemId}/events", h.Events)
	return r
}

func loadedStore(t *testing.T) *orderitem.Store {
	t.Helper()
	store := orderitem.NewStore()
	require.NoError(t, store.Load(context.Background(), orderitem.MockSource{}))
	return store
}

func TestListItems(t *testing.T) {
	h := newRouter(t, loadedStore(t), events.NewMemoryStore(8))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Items []struct {
				ID                   string  `json:"id"`
				MaxRefundable        float64 `json:"maxRefundable"`
				MaxRefundableDisplay string  `json:"maxRefundableDisplay"`
				FullyRefunded        bool    `json:"fullyRefunded"`
				Fees                 []struct {
					Type string  `json:"type"`
					Cap  float64 `json:"cap"`
				} `json:"fees"`
			} `json:"items"`
			Summary breakdown.SummaryView `json:"summary"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Items, 3)

	first := resp.Data.Items[0]
	require.Equal(t, "item_1", first.ID)
	require.Equal(t, 80.75, first.MaxRefundable)
	require.Equal(t, "$80.75", first.MaxRefundableDisplay)
	require.Equal(t, 5.75, first.Fees[2].Cap)
	require.True(t, resp.Data.Items[2].FullyRefunded)

	require.Equal(t, 3, resp.Data.Summary.ItemCount)
	require.Equal(t, 1, resp.Data.Summary.FullyRefunded)
	require.Equal(t, pricing.Amount(11_899), resp.Data.Summary.Original)
	require.Equal(t, pricing.Amount(10_909), resp.Data.Summary.Refundable)
}

func TestGetItemNotFound(t *testing.T) {
	h := newRouter(t, loadedStore(t), events.NewMemoryStore(8))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/items/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "ITEM_NOT_FOUND")
}

func TestListBeforeLoad(t *testing.T) {
	h := newRouter(t, orderitem.NewStore(), events.NewMemoryStore(8))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "ITEMS_LOADING")
}

func TestItemEvents(t *testing.T) {
	mem := events.NewMemoryStore(8)
	bus := &events.Bus{Store: mem}
	_, err := bus.Emit(context.Background(), events.TopicRefundApplied, "item_1", map[string]any{"amount": "0.00"})
	require.NoError(t, err)
	_, err = bus.Emit(context.Background(), events.TopicRefundApplied, "item_2", map[string]any{"amount": "1.00"})
	require.NoError(t, err)

	h := newRouter(t, loadedStore(t), mem)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/items/item_1/events?limit=5", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []events.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, "item_1", resp.Data[0].AggregateID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/items/item_1/events?limit=0", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
