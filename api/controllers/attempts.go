package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/storefront-payments/api/responses"
	"github.com/angelmondragon/storefront-payments/api/validators"
	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/pagination"
)

const maxCursorLength = 256

type attemptResponse struct {
	ID                string     `json:"id"`
	SessionID         string     `json:"session_id"`
	ProviderOrderCode int64      `json:"provider_order_code"`
	Amount            int64      `json:"amount"`
	Outcome           string     `json:"outcome"`
	TransactionID     *string    `json:"transaction_id,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	OpenedAt          time.Time  `json:"opened_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

type attemptListResponse struct {
	OrderID    string            `json:"order_id"`
	Attempts   []attemptResponse `json:"attempts"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// PaymentAttemptHistory lists the payment attempts of an order, newest first.
func PaymentAttemptHistory(hist orders.History, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hist == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "attempt history unavailable"))
			return
		}
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cursor, err := validators.QueryString(r, "cursor", maxCursorLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := hist.ListAttemptPage(r.Context(), orderID, pagination.Params{Limit: limit, Cursor: cursor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := attemptListResponse{
			OrderID:    orderID,
			Attempts:   make([]attemptResponse, 0, len(page.Attempts)),
			NextCursor: page.NextCursor,
		}
		for _, a := range page.Attempts {
			out.Attempts = append(out.Attempts, toAttemptResponse(a))
		}
		responses.WriteSuccess(w, out)
	}
}

func toAttemptResponse(a models.PaymentAttempt) attemptResponse {
	return attemptResponse{
		ID:                a.ID.String(),
		SessionID:         a.SessionID,
		ProviderOrderCode: a.ProviderOrderCode,
		Amount:            a.Amount,
		Outcome:           a.Outcome.String(),
		TransactionID:     a.TransactionID,
		ErrorMessage:      a.ErrorMessage,
		OpenedAt:          a.OpenedAt,
		FinishedAt:        a.FinishedAt,
	}
}
