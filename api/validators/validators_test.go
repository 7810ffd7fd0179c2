package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
)

type sessionBody struct {
	OrderID string `json:"order_id" validate:"required,max=64,order_id"`
	Phone   string `json:"phone" validate:"required,phone"`
}

func postBody(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
}

func TestDecodeJSONBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		field   string
	}{
		{name: "valid", body: `{"order_id":"ord-1.a_b","phone":"+84 (90) 000-0000"}`},
		{name: "empty", body: ``, wantErr: "request body required"},
		{name: "unknown field", body: `{"order_id":"ord-1","phone":"0900000000","x":1}`, wantErr: "invalid request body"},
		{name: "trailing object", body: `{"order_id":"ord-1","phone":"0900000000"}{}`, wantErr: "single JSON object"},
		{name: "bad order id", body: `{"order_id":"ord 1/2","phone":"0900000000"}`, wantErr: "validation failed", field: "order_id"},
		{name: "bad phone", body: `{"order_id":"ord-1","phone":"call me"}`, wantErr: "validation failed", field: "phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dest sessionBody
			err := DecodeJSONBody(postBody(tt.body), &dest)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "ord-1.a_b", dest.OrderID)
				return
			}
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			assert.Contains(t, typed.Message(), tt.wantErr)
			if tt.field != "" {
				details, ok := typed.Details().(map[string]string)
				require.True(t, ok)
				assert.Contains(t, details, tt.field)
			}
		})
	}
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	body := `{"order_id":"` + strings.Repeat("a", MaxBodyBytes) + `","phone":"0900000000"}`
	err := DecodeJSONBody(postBody(body), &sessionBody{})
	require.Error(t, err)
	assert.Equal(t, "request body too large", pkgerrors.As(err).Message())
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=7&bad=x&cursor=+abc+&big=500", nil)

	limit, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 7, limit)

	limit, err = ParseQueryInt(req, "missing", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, limit)

	_, err = ParseQueryInt(req, "bad", 25, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = ParseQueryInt(req, "big", 25, 1, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	cursor, err := QueryString(req, "cursor", 8)
	require.NoError(t, err)
	assert.Equal(t, "abc", cursor)
	_, err = QueryString(req, "cursor", 2)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSanitizers(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abc  ", 0))
	assert.Equal(t, "ab", SanitizeString("abcdef", 2))
	// "é" is two bytes; a cut through it drops the whole rune.
	assert.Equal(t, "caf", SanitizeString("café", 4))
	assert.Equal(t, "an@example.com", NormalizeEmail("  AN@Example.COM "))
	assert.Equal(t, "+84900000000", NormalizePhone(" +84 (90) 000-0000 "))
	assert.Equal(t, "0900000000", NormalizePhone("090-000+0000"))
}
