package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-payments/api/responses"
	"github.com/angelmondragon/storefront-payments/api/validators"
	"github.com/angelmondragon/storefront-payments/internal/checkout"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/payos"
	"github.com/angelmondragon/storefront-payments/pkg/qrcode"
)

const (
	maxOrderIDLength = 64
	minQRSize        = 64
	maxQRSize        = 1024
)

type startPaymentRequest struct {
	OrderID       string `json:"order_id" validate:"required,max=64,order_id"`
	CustomerName  string `json:"customer_name" validate:"required,max=255"`
	CustomerEmail string `json:"customer_email" validate:"required,email,max=255"`
	CustomerPhone string `json:"customer_phone" validate:"required,phone"`
}

// PaymentSessionStart opens a payment session for an order and returns its
// first snapshot.
func PaymentSessionStart(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload startPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID := validators.SanitizeString(payload.OrderID, maxOrderIDLength)
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID)
		}
		snap, err := svc.StartPayment(ctx, orderID, payos.CustomerContact{
			Name:  validators.SanitizeString(payload.CustomerName, 255),
			Email: validators.NormalizeEmail(payload.CustomerEmail),
			Phone: validators.NormalizePhone(payload.CustomerPhone),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, snap)
	}
}

func PaymentSessionFetch(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Session(orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// PaymentSessionQR serves the QR image of the current intent. An optional
// size query parameter re-renders it at that many pixels.
func PaymentSessionQR(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		size, err := validators.ParseQueryInt(r, "size", 0, minQRSize, maxQRSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var png []byte
		if size == 0 {
			png, err = svc.QRCode(orderID)
		} else {
			png, err = renderAtSize(svc, orderID, size)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePNG(w, png)
	}
}

func renderAtSize(svc checkout.Service, orderID string, size int) ([]byte, error) {
	snap, err := svc.Session(orderID)
	if err != nil {
		return nil, err
	}
	if snap.Intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment intent")
	}
	return qrcode.RenderPNG(snap.Intent.QRPayload, size)
}

func PaymentSessionCancel(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Cancel(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// PaymentSessionRetry opens a new attempt on a fresh provider order.
func PaymentSessionRetry(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Retry(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// PaymentSessionClose tears the session down without cancelling the
// provider order.
func PaymentSessionClose(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Close(r.Context(), orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"order_id": orderID, "status": "closed"})
	}
}

func orderIDParam(r *http.Request) (string, error) {
	orderID := validators.SanitizeString(chi.URLParam(r, "orderId"), 0)
	if orderID == "" || len(orderID) > maxOrderIDLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid order id").
			WithDetails(map[string]any{"field": "orderId"})
	}
	return orderID, nil
}
