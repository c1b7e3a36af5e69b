// Package breakdown serves the read side of the order item breakdown page.
package breakdown

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-refunds/internal/common"
	"github.com/noah-isme/toko-refunds/internal/events"
	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
	"github.com/noah-isme/toko-refunds/internal/refund"
)

type Handler struct {
	Store      *orderitem.Store
	Formatter  pricing.Formatter
	EventStore *events.MemoryStore
}

type SummaryView struct {
	Original           pricing.Amount `json:"original"`
	Outstanding        pricing.Amount `json:"outstanding"`
	Refunded           pricing.Amount `json:"refunded"`
	Fees               pricing.Amount `json:"fees"`
	Refundable         pricing.Amount `json:"refundable"`
	ItemCount          int            `json:"itemCount"`
	FullyRefunded      int            `json:"fullyRefunded"`
	OriginalDisplay    string         `json:"originalDisplay"`
	OutstandingDisplay string         `json:"outstandingDisplay"`
	RefundedDisplay    string         `json:"refundedDisplay"`
	RefundableDisplay  string         `json:"refundableDisplay"`
}

type Page struct {
	Items    []refund.ItemView `json:"items"`
	Summary  SummaryView       `json:"summary"`
	Currency string            `json:"currency"`
	Version  uint64            `json:"version"`
}

// Summarize totals items for the page header.
func Summarize(items []orderitem.OrderItem) pricing.Summary {
	lines := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		var caps pricing.Money
		for _, f := range it.Fees {
			caps += f.MaxRefund
		}
		lines = append(lines, pricing.Line{
			Original:    it.OriginalAmount,
			Outstanding: it.Amount,
			Refunded:    it.RefundedAmount,
			Fees:        it.FeeTotal(),
			FeeCaps:     caps,
		})
	}
	return pricing.Summarize(lines)
}

// List handles GET /items.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "item store not configured", nil)
		return
	}
	items, err := h.Store.List()
	if err != nil {
		common.WriteError(w, refund.ToAppError(err))
		return
	}
	s := Summarize(items)
	page := Page{
		Items: refund.NewItemViews(items, h.Formatter),
		Summary: SummaryView{
			Original:           pricing.Amount(s.Original),
			Outstanding:        pricing.Amount(s.Outstanding),
			Refunded:           pricing.Amount(s.Refunded),
			Fees:               pricing.Amount(s.Fees),
			Refundable:         pricing.Amount(s.Refundable),
			ItemCount:          s.ItemCount,
			FullyRefunded:      s.FullyRefunded,
			OriginalDisplay:    h.Formatter.Format(s.Original),
			OutstandingDisplay: h.Formatter.Format(s.Outstanding),
			RefundedDisplay:    h.Formatter.Format(s.Refunded),
			RefundableDisplay:  h.Formatter.Format(s.Refundable),
		},
		Currency: h.Formatter.Currency,
		Version:  h.Store.Version(),
	}
	common.Data(w, http.StatusOK, page)
}

// Get handles GET /items/{itemId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "item store not configured", nil)
		return
	}
	item, err := h.Store.Get(chi.URLParam(r, "itemId"))
	if err != nil {
		common.WriteError(w, refund.ToAppError(err))
		return
	}
	common.Data(w, http.StatusOK, refund.NewItemView(item, h.Formatter))
}

// Events handles GET /items/{itemId}/events and lists the item's recent refund events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil || h.EventStore == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "event feed not configured", nil)
		return
	}
	itemID := chi.URLParam(r, "itemId")
	if _, err := h.Store.Get(itemID); err != nil {
		common.WriteError(w, refund.ToAppError(err))
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be between 1 and 100", nil)
			return
		}
		limit = n
	}
	common.Data(w, http.StatusOK, h.EventStore.Recent(itemID, limit))
}
