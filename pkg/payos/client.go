package payos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
)

const (
	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1024
	maxResponseBytes      int64 = 1 << 20
)

var errBaseURLRequired = errors.New("payos backend base url is required")

// Client talks to the storefront backend endpoints that front the PayOS
// gateway. It is stateless and safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithTimeout bounds each request. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		c.logger = logg
	}
}

// WithNow overrides the clock used to stamp PaymentIntent.CreatedAt.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL: trimmed,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{}
	}
	return client, nil
}

type createPaymentRequest struct {
	OrderID       string `json:"order_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
}

type createPaymentResponse struct {
	PayOSOrderCode int64  `json:"payos_order_code"`
	Amount         int64  `json:"amount"`
	QRCode         string `json:"qr_code"`
	PaymentLink    string `json:"payment_link"`
	OrderID        string `json:"order_id"`
}

type verifyPaymentResponse struct {
	Status        string       `json:"status"`
	PayOSStatus   string       `json:"payos_status"`
	TransactionID string       `json:"transaction_id"`
	Amount        int64        `json:"amount"`
	OrderID       string       `json:"order_id"`
	CompletedAt   *time.Time   `json:"completed_at"`
	PaymentInfo   *PaymentInfo `json:"payment_info"`
}

type cancelPaymentRequest struct {
	CancellationReason string `json:"cancellationReason"`
}

// CreatePayment asks the backend to open a new provider order. Every call may
// yield a new provider order code.
func (c *Client) CreatePayment(ctx context.Context, orderID string, contact CustomerContact) (*PaymentIntent, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payos client not configured")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	payload := createPaymentRequest{
		OrderID:       orderID,
		CustomerName:  contact.Name,
		CustomerEmail: contact.Email,
		CustomerPhone: contact.Phone,
	}
	c.log(ctx, "request", "create_payment", map[string]any{
		"order_id":       orderID,
		"customer_email": contact.Email,
		"customer_phone": contact.Phone,
	})

	var resp createPaymentResponse
	if err := c.do(ctx, http.MethodPost, "payments", payload, &resp); err != nil {
		err = c.mapError(err, "create payment", true)
		c.log(ctx, "error", "create_payment", map[string]any{"order_id": orderID, "error": err})
		return nil, err
	}
	if resp.PayOSOrderCode == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeProvider, "create payment returned no order code")
	}

	intent := &PaymentIntent{
		OrderID:           firstNonEmpty(resp.OrderID, orderID),
		ProviderOrderCode: resp.PayOSOrderCode,
		Amount:            resp.Amount,
		PaymentLink:       resp.PaymentLink,
		QRPayload:         resp.QRCode,
		CreatedAt:         c.now().UTC(),
	}
	c.log(ctx, "response", "create_payment", map[string]any{
		"order_id":   intent.OrderID,
		"order_code": intent.ProviderOrderCode,
		"amount":     intent.Amount,
	})
	return intent, nil
}

// VerifyPayment reads the current status of a provider order. It never
// mutates provider state.
func (c *Client) VerifyPayment(ctx context.Context, orderCode int64) (*PaymentStatus, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payos client not configured")
	}
	if orderCode <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code is required")
	}

	var resp verifyPaymentResponse
	path := "payments/verify/" + strconv.FormatInt(orderCode, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, c.mapError(err, "verify payment", false)
	}

	status, err := enums.ParsePaymentStatus(resp.Status)
	if err != nil {
		// Unknown statuses keep the session polling rather than failing it.
		status = enums.PaymentStatusPending
		c.log(ctx, "unknown_status", "verify_payment", map[string]any{
			"order_code": orderCode,
			"status":     resp.Status,
		})
	}

	return &PaymentStatus{
		Status:         status,
		ProviderStatus: strings.ToUpper(strings.TrimSpace(resp.PayOSStatus)),
		TransactionID:  resp.TransactionID,
		Amount:         resp.Amount,
		OrderID:        resp.OrderID,
		CompletedAt:    resp.CompletedAt,
		Info:           resp.PaymentInfo,
	}, nil
}

// CancelPayment asks the provider to cancel an open order. Callers treat
// failures as best-effort.
func (c *Client) CancelPayment(ctx context.Context, orderCode int64, reason string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "payos client not configured")
	}
	if orderCode <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order code is required")
	}

	c.log(ctx, "request", "cancel_payment", map[string]any{"order_code": orderCode, "reason": reason})
	path := "payments/" + strconv.FormatInt(orderCode, 10) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, cancelPaymentRequest{CancellationReason: reason}, nil); err != nil {
		err = c.mapError(err, "cancel payment", false)
		c.log(ctx, "error", "cancel_payment", map[string]any{"order_code": orderCode, "error": err})
		return err
	}
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// StatusCode exposes the gateway's HTTP status to error dumps.
func (e *statusError) StatusCode() int {
	return e.status
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return "decode response: " + e.err.Error()
}

func (e *decodeError) Unwrap() error {
	return e.err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &decodeError{err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if err := unmarshalData(raw, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// unmarshalData accepts both bare objects and {"data": {...}} envelopes.
func unmarshalData(raw []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		raw = envelope.Data
	}
	return json.Unmarshal(raw, out)
}

// mapError classifies a request failure. Transport failures, timeouts, 408,
// 429 and 5xx are transient; everything else is a provider rejection.
func (c *Client) mapError(err error, op string, creating bool) error {
	if err == nil {
		return nil
	}
	var se *statusError
	if errors.As(err, &se) {
		code := codeForStatus(se.status)
		if creating && code != pkgerrors.CodeTransient {
			code = pkgerrors.CodeProvider
		}
		return pkgerrors.Wrap(code, err, op+" failed").WithDetails(map[string]any{"status": se.status})
	}
	var de *decodeError
	if errors.As(err, &de) {
		return pkgerrors.Wrap(pkgerrors.CodeProvider, err, op+" returned an unreadable response")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, op+" timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeTransient, err, op+" request failed")
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return pkgerrors.CodeTransient
	case status >= 500:
		return pkgerrors.CodeTransient
	default:
		return pkgerrors.CodeProvider
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		if k == "error" {
			continue
		}
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		err, _ := fields["error"].(error)
		c.logger.Error(ctx, "payos "+op, err)
	case "unknown_status":
		c.logger.Warn(ctx, "payos unknown status")
	default:
		c.logger.Info(ctx, "payos "+phase)
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"email", "phone", "token", "secret", "account"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
