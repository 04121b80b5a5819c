package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/isw-interns2026/shardul-ecommerce/internal/checkout"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
	"github.com/isw-interns2026/shardul-ecommerce/internal/payment"
	"github.com/isw-interns2026/shardul-ecommerce/internal/redisx"
)

const maxWebhookBody = 64 << 10

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, buyerID uuid.UUID) (checkout.Result, error)
}

type EventHandler interface {
	HandleProviderEvent(ctx context.Context, payload []byte, signature string) payment.Outcome
}

type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, sellerID, orderID uuid.UUID) (orders.Order, error)
}

type StatusCache interface {
	Get(ctx context.Context, txID string) (redisx.CachedStatus, bool, error)
	Fill(ctx context.Context, s redisx.CachedStatus) error
}

type CheckoutHandler struct {
	Checkout    OrderPlacer
	Webhooks    EventHandler
	Fulfillment DeliveryMarker
	Store       orders.Store
	Cache       StatusCache // optional
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/buyer/checkout", h.placeOrder)
	r.Get("/buyer/transactions/{id}", h.getTransaction)
	r.Post("/payments/webhook", h.webhook)
	r.Patch("/seller/orders/{id}", h.updateOrder)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor is the single mapping from domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrEmptyCart), errors.Is(err, orders.ErrInvalidCount):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrProductNotFound),
		errors.Is(err, checkout.ErrNotOrderSeller):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrConcurrencyConflict), errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrPaymentUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func idHeader(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(name))
	return id, err == nil
}

type placeOrderResp struct {
	TransactionID string `json:"transaction_id"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (h *CheckoutHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := idHeader(r, "X-Buyer-Id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid X-Buyer-Id"})
		return
	}
	res, err := h.Checkout.PlaceOrder(r.Context(), buyerID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, placeOrderResp{TransactionID: res.TransactionID.String(), CheckoutURL: res.CheckoutURL})
	case errors.Is(err, checkout.ErrPaymentUnavailable):
		writeJSON(w, http.StatusBadGateway, placeOrderResp{TransactionID: res.TransactionID.String(), Error: "payment provider unavailable"})
	default:
		writeError(w, r, err)
	}
}

func (h *CheckoutHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	switch h.Webhooks.HandleProviderEvent(r.Context(), body, r.Header.Get("Stripe-Signature")) {
	case payment.RejectedSignature:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
	case payment.Retry:
		// any non-2xx makes the provider redeliver
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event not applied, retry"})
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

type transactionResp struct {
	TransactionID string      `json:"transaction_id"`
	Status        string      `json:"status"`
	AmountCents   int64       `json:"amount_cents"`
	Orders        []orderResp `json:"orders,omitempty"`
	Cached        bool        `json:"cached"`
}

type orderResp struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Count      int    `json:"count"`
	TotalCents int64  `json:"total_cents"`
	Status     string `json:"status"`
}

func (h *CheckoutHandler) getTransaction(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := idHeader(r, "X-Buyer-Id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid X-Buyer-Id"})
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	log := zerolog.Ctx(ctx)

	// 1) cache
	if h.Cache != nil {
		s, hit, err := h.Cache.Get(ctx, txID.String())
		if err != nil {
			log.Warn().Err(err).Msg("status cache read")
		}
		if hit && s.BuyerID == buyerID.String() {
			writeJSON(w, http.StatusOK, transactionResp{
				TransactionID: s.TransactionID, Status: s.Status, AmountCents: s.AmountCents, Cached: true,
			})
			return
		}
	}

	// 2) store
	v, err := checkout.BuyerTransaction(ctx, h.Store, buyerID, txID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := transactionResp{TransactionID: v.ID.String(), Status: string(v.Status), AmountCents: v.AmountCents}
	for _, o := range v.Orders {
		resp.Orders = append(resp.Orders, orderResp{
			ID: o.ID.String(), ProductID: o.ProductID.String(), Count: o.Count, TotalCents: o.TotalCents, Status: string(o.Status),
		})
	}
	if h.Cache != nil {
		err := h.Cache.Fill(ctx, redisx.CachedStatus{
			TransactionID: resp.TransactionID, BuyerID: buyerID.String(), Status: resp.Status,
			AmountCents: resp.AmountCents, UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("status cache fill")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateOrderReq struct {
	Status string `json:"status"`
}

func (h *CheckoutHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := idHeader(r, "X-Seller-Id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid X-Seller-Id"})
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req updateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	to, ok := orders.ParseOrderStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + req.Status})
		return
	}
	// sellers can only report delivery; every other move belongs to the saga
	if to != orders.OrderDelivered {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sellers may only set status Delivered"})
		return
	}
	o, err := h.Fulfillment.MarkDelivered(r.Context(), sellerID, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResp{
		ID: o.ID.String(), ProductID: o.ProductID.String(), Count: o.Count, TotalCents: o.TotalCents, Status: string(o.Status),
	})
}
