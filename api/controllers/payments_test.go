package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-payments/internal/session"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/payos"
)

type stubPaymentService struct {
	snap       session.Snapshot
	err        error
	png        []byte
	gotOrder   string
	gotContact payos.CustomerContact
	closed     bool
}

func (s *stubPaymentService) StartPayment(_ context.Context, orderID string, contact payos.CustomerContact) (session.Snapshot, error) {
	s.gotOrder, s.gotContact = orderID, contact
	return s.snap, s.err
}

func (s *stubPaymentService) Session(orderID string) (session.Snapshot, error) {
	s.gotOrder = orderID
	return s.snap, s.err
}

func (s *stubPaymentService) QRCode(orderID string) ([]byte, error) {
	s.gotOrder = orderID
	return s.png, s.err
}

func (s *stubPaymentService) Cancel(_ context.Context, orderID string) (session.Snapshot, error) {
	s.gotOrder = orderID
	return s.snap, s.err
}

func (s *stubPaymentService) Retry(_ context.Context, orderID string) (session.Snapshot, error) {
	s.gotOrder = orderID
	return s.snap, s.err
}

func (s *stubPaymentService) Close(_ context.Context, orderID string) error {
	s.gotOrder = orderID
	s.closed = true
	return s.err
}

func (s *stubPaymentService) Shutdown(context.Context) error { return nil }

func paymentsRouter(svc *stubPaymentService) http.Handler {
	r := chi.NewRouter()
	r.Post("/sessions", PaymentSessionStart(svc, nil))
	r.Get("/sessions/{orderId}", PaymentSessionFetch(svc, nil))
	r.Get("/sessions/{orderId}/qr", PaymentSessionQR(svc, nil))
	r.Post("/sessions/{orderId}/cancel", PaymentSessionCancel(svc, nil))
	r.Post("/sessions/{orderId}/retry", PaymentSessionRetry(svc, nil))
	r.Delete("/sessions/{orderId}", PaymentSessionClose(svc, nil))
	return r
}

func decodeSnapshot(t *testing.T, body []byte) session.Snapshot {
	t.Helper()
	var envelope struct {
		Data session.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func TestPaymentSessionStartCreatesSession(t *testing.T) {
	t.Parallel()

	svc := &stubPaymentService{snap: session.Snapshot{
		OrderID:          "ord-1",
		Phase:            enums.PaymentPhasePolling,
		RemainingSeconds: 900,
		Intent:           &payos.PaymentIntent{OrderID: "ord-1", ProviderOrderCode: 42},
		QRAvailable:      true,
	}}
	body := `{"order_id":" ord-1 ","customer_name":"An","customer_email":"AN@Example.com","customer_phone":"0900000000"}`
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	paymentsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.gotOrder != "ord-1" || svc.gotContact.Email != "an@example.com" {
		t.Fatalf("unexpected service input %q %+v", svc.gotOrder, svc.gotContact)
	}
	snap := decodeSnapshot(t, rec.Body.Bytes())
	if snap.Phase != enums.PaymentPhasePolling || snap.Intent == nil || snap.Intent.ProviderOrderCode != 42 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPaymentSessionStartValidatesBody(t *testing.T) {
	t.Parallel()

	svc := &stubPaymentService{}
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"order_id":"ord-1","customer_email":"nope"}`))
	rec := httptest.NewRecorder()

	paymentsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.gotOrder != "" {
		t.Fatalf("service must not be called on invalid input")
	}
}

func TestPaymentSessionErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		err    error
		want   int
	}{
		{"unknown session", http.MethodGet, "/sessions/ord-1", pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found"), http.StatusNotFound},
		{"cancel when not open", http.MethodPost, "/sessions/ord-1/cancel", pkgerrors.New(pkgerrors.CodeStateConflict, "payment session is not open"), http.StatusConflict},
		{"retry provider failure", http.MethodPost, "/sessions/ord-1/retry", pkgerrors.New(pkgerrors.CodeProvider, "order already paid"), http.StatusBadGateway},
		{"qr encoding failure", http.MethodGet, "/sessions/ord-1/qr", pkgerrors.New(pkgerrors.CodeEncoding, "qr payload is empty"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubPaymentService{err: tt.err}
			rec := httptest.NewRecorder()
			paymentsRouter(svc).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestPaymentSessionQRServesPNG(t *testing.T) {
	t.Parallel()

	svc := &stubPaymentService{png: []byte("png-bytes")}
	rec := httptest.NewRecorder()
	paymentsRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/ord-1/qr", nil))

	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "png-bytes" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestPaymentSessionQRRendersRequestedSize(t *testing.T) {
	t.Parallel()

	svc := &stubPaymentService{snap: session.Snapshot{
		OrderID: "ord-1",
		Intent:  &payos.PaymentIntent{QRPayload: "000201010212"},
	}}
	rec := httptest.NewRecorder()
	paymentsRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/ord-1/qr?size=128", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
		t.Fatalf("expected png body")
	}

	rec = httptest.NewRecorder()
	paymentsRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/ord-1/qr?size=5000", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range size, got %d", rec.Code)
	}
}

func TestPaymentSessionCancelRetryClose(t *testing.T) {
	t.Parallel()

	svc := &stubPaymentService{snap: session.Snapshot{OrderID: "ord-1", Phase: enums.PaymentPhaseCancelled}}
	router := paymentsRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/ord-1/cancel", nil))
	if rec.Code != http.StatusOK || decodeSnapshot(t, rec.Body.Bytes()).Phase != enums.PaymentPhaseCancelled {
		t.Fatalf("unexpected cancel response %d %s", rec.Code, rec.Body.String())
	}

	svc.snap = session.Snapshot{OrderID: "ord-1", Phase: enums.PaymentPhasePolling, Attempt: 2}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/ord-1/retry", nil))
	if rec.Code != http.StatusOK || decodeSnapshot(t, rec.Body.Bytes()).Attempt != 2 {
		t.Fatalf("unexpected retry response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/ord-1", nil))
	if rec.Code != http.StatusOK || !svc.closed {
		t.Fatalf("expected close, got %d", rec.Code)
	}
}
