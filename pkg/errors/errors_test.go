package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeIdempotency, status: http.StatusConflict, publicMsg: "idempotency key reused", detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeTransient, status: http.StatusServiceUnavailable, publicMsg: "payment gateway temporarily unavailable", retryable: true},
		{code: CodeProvider, status: http.StatusBadGateway, publicMsg: "payment gateway rejected the request", detailsOK: true},
		{code: CodeEncoding, status: http.StatusUnprocessableEntity, publicMsg: "qr code unavailable"},
		{code: CodeCancellation, status: http.StatusBadGateway, publicMsg: "payment cancellation not confirmed", retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if got := wrapped.Error(); got != "CONFLICT: ctx: boom" {
		t.Fatalf("expected cause in message, got %q", got)
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := fmt.Errorf("lookup: %w", New(CodeNotFound, "no session"))
	if got := As(err); got == nil || got.Code() != CodeNotFound {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeWalksWrappedChain(t *testing.T) {
	inner := New(CodeTransient, "verify timed out")
	outer := Wrap(CodeCancellation, fmt.Errorf("cancel order: %w", inner), "remote cancel failed")

	if !IsCode(outer, CodeCancellation) {
		t.Fatalf("expected outer code to match")
	}
	if !IsTransient(outer) {
		t.Fatalf("expected transient cause to be found through the chain")
	}
	if IsCode(outer, CodeProvider) {
		t.Fatalf("did not expect provider code")
	}
	if IsTransient(stdErrors.New("plain")) {
		t.Fatalf("plain errors are never transient")
	}
	if IsTransient(nil) {
		t.Fatalf("nil is never transient")
	}
}

type gatewayStatus struct{ status int }

func (g gatewayStatus) Error() string   { return fmt.Sprintf("status %d", g.status) }
func (g gatewayStatus) StatusCode() int { return g.status }

func TestDumpCollectsUpstreamAndPostgresDetail(t *testing.T) {
	err := Wrap(CodeTransient, gatewayStatus{status: http.StatusBadGateway}, "check status failed")
	d := Dump(err)
	if d.Code != CodeTransient || !d.Retryable {
		t.Fatalf("unexpected code %s retryable=%v", d.Code, d.Retryable)
	}
	if d.UpstreamStatus != http.StatusBadGateway {
		t.Fatalf("expected upstream status 502, got %d", d.UpstreamStatus)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two links in chain, got %v", d.Chain)
	}
	fields := d.Fields()
	if fields["upstream_status"] != http.StatusBadGateway {
		t.Fatalf("expected upstream_status field, got %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("pg fields must be omitted without a postgres error")
	}

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "payment_attempts_provider_order_code_key", TableName: "payment_attempts"}
	d = Dump(Wrap(CodeDependency, pgErr, "record attempt"))
	if d.Postgres == nil || d.Postgres.Constraint != "payment_attempts_provider_order_code_key" {
		t.Fatalf("expected postgres detail, got %+v", d.Postgres)
	}
	fields = d.Fields()
	if fields["pg_code"] != "23505" || fields["pg_table"] != "payment_attempts" {
		t.Fatalf("unexpected pg fields %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("empty pg values must be omitted")
	}
}

func TestDumpNil(t *testing.T) {
	if d := Dump(nil); d.Message != "" || d.Chain != nil {
		t.Fatalf("expected empty dump, got %+v", d)
	}
}
