package refund

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-refunds/internal/common"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

type Handler struct {
	Svc       *Service
	Dialogs   *DialogRegistry
	Formatter pricing.Formatter
}

type quoteInput struct {
	BaseAmount pricing.Amount            `json:"baseAmount"`
	FeeRefunds map[string]pricing.Amount `json:"feeRefunds"`
}

type feeLineInput struct {
	Type   string         `json:"type" validate:"required,max=64"`
	Amount pricing.Amount `json:"amount"`
}

type itemInput struct {
	ID         string         `json:"id" validate:"required,max=128"`
	Amount     pricing.Amount `json:"amount"`
	FeeRefunds []feeLineInput `json:"feeRefunds" validate:"dive"`
}

type refundInput struct {
	Items  []itemInput `json:"items" validate:"required,min=1,dive"`
	Reason string      `json:"reason" validate:"max=255"`
	Notes  string      `json:"notes" validate:"max=1000"`
}

type openDialogInput struct {
	ItemID string `json:"itemId" validate:"required,max=128"`
}

type patchDialogInput struct {
	BaseAmount *pricing.Amount           `json:"baseAmount"`
	FeeRefunds map[string]pricing.Amount `json:"feeRefunds"`
	Reason     *string                   `json:"reason" validate:"omitempty,max=255"`
	Notes      *string                   `json:"notes" validate:"omitempty,max=1000"`
}

// Quote handles POST /items/{itemId}/refund-quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund service not configured", nil)
		return
	}
	var in quoteInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	req := Request{
		ItemID:     chi.URLParam(r, "itemId"),
		BaseAmount: in.BaseAmount.Money(),
		FeeRefunds: toMoneyMap(in.FeeRefunds),
	}
	_, q, err := h.Svc.Quote(r.Context(), req)
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	common.Data(w, http.StatusOK, NewQuoteView(q, h.Formatter))
}

// Create handles POST /refunds.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund service not configured", nil)
		return
	}
	var in refundInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	sub := Submission{Reason: in.Reason, Notes: in.Notes}
	for _, it := range in.Items {
		fees := make(map[string]pricing.Money, len(it.FeeRefunds))
		for _, f := range it.FeeRefunds {
			if _, dup := fees[f.Type]; dup {
				common.WriteError(w, common.NewAppError("BAD_REQUEST", "duplicate fee type in refund", http.StatusBadRequest, nil).
					WithDetails(map[string]any{"itemId": it.ID, "feeType": f.Type}))
				return
			}
			fees[f.Type] = f.Amount.Money()
		}
		sub.Requests = append(sub.Requests, Request{ItemID: strings.TrimSpace(it.ID), BaseAmount: it.Amount.Money(), FeeRefunds: fees})
	}
	receipt, err := h.Svc.Issue(r.Context(), sub)
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	common.Data(w, http.StatusCreated, h.receiptView(receipt))
}

// OpenDialog handles POST /refund-dialogs.
func (h *Handler) OpenDialog(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Dialogs == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund dialogs not configured", nil)
		return
	}
	var in openDialogInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	item, err := h.Svc.Store.Get(strings.TrimSpace(in.ItemID))
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	d, err := h.Dialogs.Open(item)
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	common.Data(w, http.StatusCreated, newDialogView(d.View(), h.Formatter))
}

// GetDialog handles GET /refund-dialogs/{dialogId}.
func (h *Handler) GetDialog(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dialog(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, newDialogView(d.View(), h.Formatter))
}

// PatchDialog handles PATCH /refund-dialogs/{dialogId}. Amounts are clamped,
// so an out-of-range edit is accepted and reported through the view.
func (h *Handler) PatchDialog(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dialog(w, r)
	if !ok {
		return
	}
	var in patchDialogInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	var err error
	if in.BaseAmount != nil {
		_, err = d.SetBaseAmount(in.BaseAmount.Money())
	}
	for _, feeType := range sortedFeeTypes(toMoneyMap(in.FeeRefunds)) {
		if err != nil {
			break
		}
		_, err = d.SetFeeAmount(feeType, in.FeeRefunds[feeType].Money())
	}
	if err == nil && in.Reason != nil {
		_, err = d.SetReason(*in.Reason)
	}
	if err == nil && in.Notes != nil {
		_, err = d.SetNotes(*in.Notes)
	}
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	common.Data(w, http.StatusOK, newDialogView(d.View(), h.Formatter))
}

// ConfirmDialog handles POST /refund-dialogs/{dialogId}/confirm.
func (h *Handler) ConfirmDialog(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dialog(w, r)
	if !ok {
		return
	}
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund service not configured", nil)
		return
	}
	receipt, err := d.Confirm(r.Context(), h.Svc)
	if err != nil {
		appErr := ToAppError(err)
		details := map[string]any{"dialog": newDialogView(d.View(), h.Formatter)}
		if m, ok := appErr.Details.(map[string]any); ok {
			for k, v := range m {
				details[k] = v
			}
		}
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, details)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{
		"dialog": newDialogView(d.View(), h.Formatter),
		"refund": h.receiptView(receipt),
	})
}

// CloseDialog handles DELETE /refund-dialogs/{dialogId}.
func (h *Handler) CloseDialog(w http.ResponseWriter, r *http.Request) {
	if h.Dialogs == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund dialogs not configured", nil)
		return
	}
	if err := h.Dialogs.Close(chi.URLParam(r, "dialogId")); err != nil {
		common.WriteError(w, ToAppError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dialog(w http.ResponseWriter, r *http.Request) (*Dialog, bool) {
	if h.Dialogs == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund dialogs not configured", nil)
		return nil, false
	}
	d, err := h.Dialogs.Get(chi.URLParam(r, "dialogId"))
	if err != nil {
		common.WriteError(w, ToAppError(err))
		return nil, false
	}
	return d, true
}

func (h *Handler) receiptView(rc Receipt) map[string]any {
	return map[string]any{
		"refundId":         rc.RefundID,
		"total":            pricing.Amount(rc.Total),
		"customerReceives": h.Formatter.Format(rc.Total),
		"items":            NewItemViews(rc.Items, h.Formatter),
	}
}

func toMoneyMap(in map[string]pricing.Amount) map[string]pricing.Money {
	out := make(map[string]pricing.Money, len(in))
	for k, v := range in {
		out[k] = v.Money()
	}
	return out
}
