package refund_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
	"github.com/noah-isme/toko-refunds/internal/refund"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type quoteResponse struct {
	Total            float64 `json:"total"`
	MaxRefundable    float64 `json:"maxRefundable"`
	IsPartial        bool    `json:"isPartial"`
	CustomerReceives string  `json:"customerReceives"`
}

type dialogResponse struct {
	ID         string             `json:"id"`
	State      string             `json:"state"`
	BaseAmount float64            `json:"baseAmount"`
	FeeRefunds map[string]float64 `json:"feeRefunds"`
	Quote      quoteResponse      `json:"quote"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Notice *struct {
		Message string `json:"message"`
	} `json:"notice"`
}

func newRouter(t *testing.T) (http.Handler, *refund.MockIssuer, *orderitem.Store) {
	t.Helper()
	store := orderitem.NewStore()
	require.NoError(t, store.Load(context.Background(), orderitem.MockSource{}))
	issuer := &refund.MockIssuer{}
	f := pricing.Formatter{Currency: "USD", Locale: "en-US"}
	h := &refund.Handler{
		Svc:       &refund.Service{Store: store, Issuer: issuer, Logger: zerolog.Nop()},
		Dialogs:   refund.NewDialogRegistry(0, 0, f),
		Formatter: f,
	}
	r := chi.NewRouter()
	r.Post("/api/v1/items/{itemId}/refund-quote", h.Quote)
	r.Post("/api/v1/refunds", h.Create)
	r.Post("/api/v1/refund-dialogs", h.OpenDialog)
	r.Get("/api/v1/refund-dialogs/{dialogId}", h.GetDialog)
	r.Patch("/api/v1/refund-dialogs/{dialogId}", h.PatchDialog)
	r.Post("/api/v1/refund-dialogs/{dialogId}/confirm", h.ConfirmDialog)
	r.Delete("/api/v1/refund-dialogs/{dialogId}", h.CloseDialog)
	return r, issuer, store
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestQuoteHandler(t *testing.T) {
	h, _, _ := newRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/v1/items/item_1/refund-quote", `{"baseAmount":75.00,"feeRefunds":{"Tax":"5.75"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var q quoteResponse
	require.NoError(t, json.Unmarshal(env.Data, &q))
	require.Equal(t, 80.75, q.Total)
	require.False(t, q.IsPartial)
	require.Equal(t, "$80.75", q.CustomerReceives)

	rec, env = do(t, h, http.MethodPost, "/api/v1/items/item_1/refund-quote", `{"baseAmount":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "NON_POSITIVE_AMOUNT", env.Error.Code)

	rec, env = do(t, h, http.MethodPost, "/api/v1/items/item_1/refund-quote", `{"baseAmount":80.76}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "EXCEEDS_CAP", env.Error.Code)
	require.Equal(t, 80.75, env.Error.Details["cap"])

	rec, env = do(t, h, http.MethodPost, "/api/v1/items/item_9/refund-quote", `{"baseAmount":1}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "ITEM_NOT_FOUND", env.Error.Code)

	rec, env = do(t, h, http.MethodPost, "/api/v1/items/item_1/refund-quote", `{"baseAmount":1.005}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_AMOUNT", env.Error.Code)

	rec, env = do(t, h, http.MethodPost, "/api/v1/items/item_1/refund-quote", `{"baseAmount":184467440737095517.16}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_AMOUNT", env.Error.Code)
}

func TestCreateRefundRejectsDuplicateFeeTypes(t *testing.T) {
	h, issuer, store := newRouter(t)

	body := `{"items":[{"id":"item_1","amount":75.00,"feeRefunds":[{"type":"Tax","amount":-1.00},{"type":"Tax","amount":6.75}]}]}`
	rec, env := do(t, h, http.MethodPost, "/api/v1/refunds", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", env.Error.Code)
	require.Equal(t, "Tax", env.Error.Details["feeType"])
	require.Empty(t, issuer.Issued())

	item, err := store.Get("item_1")
	require.NoError(t, err)
	require.Zero(t, item.RefundedAmount)
}

func TestCreateRefundHandler(t *testing.T) {
	h, issuer, store := newRouter(t)

	body := `{"items":[{"id":"item_2","amount":24.00,"feeRefunds":[{"type":"Shipping","amount":2.50}]}],"reason":"late delivery"}`
	rec, env := do(t, h, http.MethodPost, "/api/v1/refunds", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		RefundID         string  `json:"refundId"`
		Total            float64 `json:"total"`
		CustomerReceives string  `json:"customerReceives"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.RefundID)
	require.Equal(t, 26.5, out.Total)
	require.Equal(t, "$26.50", out.CustomerReceives)
	require.Len(t, issuer.Issued(), 1)

	item, err := store.Get("item_2")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(2650), item.RefundedAmount)
	require.Equal(t, pricing.Money(0), item.Amount)

	rec, env = do(t, h, http.MethodPost, "/api/v1/refunds", `{"items":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	issuer.FailNext(1)
	rec, env = do(t, h, http.MethodPost, "/api/v1/refunds", `{"items":[{"id":"item_1","amount":10}]}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "SUBMISSION_FAILED", env.Error.Code)
}

func TestDialogLifecycleHandlers(t *testing.T) {
	h, issuer, _ := newRouter(t)

	rec, env := do(t, h, http.MethodPost, "/api/v1/refund-dialogs", `{"itemId":"item_1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var d dialogResponse
	require.NoError(t, json.Unmarshal(env.Data, &d))
	require.Equal(t, "editing", d.State)
	require.Equal(t, 75.0, d.BaseAmount)
	require.Equal(t, 5.75, d.FeeRefunds["Tax"])
	require.Equal(t, "$80.75", d.Quote.CustomerReceives)

	path := "/api/v1/refund-dialogs/" + d.ID
	rec, env = do(t, h, http.MethodPatch, path, `{"baseAmount":0,"feeRefunds":{"Tax":0},"reason":"changed mind"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &d))
	require.NotNil(t, d.Error)
	require.Equal(t, "NON_POSITIVE_AMOUNT", d.Error.Code)

	rec, env = do(t, h, http.MethodPost, path+"/confirm", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "NON_POSITIVE_AMOUNT", env.Error.Code)
	require.Empty(t, issuer.Issued())

	rec, env = do(t, h, http.MethodPatch, path, `{"baseAmount":40}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var edited dialogResponse
	require.NoError(t, json.Unmarshal(env.Data, &edited))
	require.Nil(t, edited.Error)
	require.True(t, edited.Quote.IsPartial)

	rec, env = do(t, h, http.MethodPost, path+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed struct {
		Dialog dialogResponse `json:"dialog"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &confirmed))
	require.Equal(t, "applied", confirmed.Dialog.State)
	require.NotNil(t, confirmed.Dialog.Notice)
	require.Equal(t, "Refund of $40.00 issued.", confirmed.Dialog.Notice.Message)

	rec, _ = do(t, h, http.MethodDelete, path, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec, env = do(t, h, http.MethodGet, path, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "DIALOG_NOT_FOUND", env.Error.Code)
}
