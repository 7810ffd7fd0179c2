package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/pagination"
)

func TestListAttemptPageWalksNewestFirst(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	hist := NewHistory(db)
	ctx := context.Background()
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := int64(0); i < 5; i++ {
		_, err := repo.RecordAttempt(ctx, newAttempt("ord-1", 500+i, opened.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := repo.RecordAttempt(ctx, newAttempt("ord-2", 900, opened))
	require.NoError(t, err)

	var codes []int64
	cursor := ""
	pages := 0
	for {
		page, err := hist.ListAttemptPage(ctx, "ord-1", pagination.Params{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, a := range page.Attempts {
			codes = append(codes, a.ProviderOrderCode)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		require.Less(t, pages, 5, "pagination did not terminate")
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []int64{504, 503, 502, 501, 500}, codes)
}

func TestListAttemptPageRejectsBadCursor(t *testing.T) {
	hist := NewHistory(setupOrdersTestDB(t))
	_, err := hist.ListAttemptPage(context.Background(), "ord-1", pagination.Params{Cursor: "not-base64!"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestListAttemptPageEmpty(t *testing.T) {
	hist := NewHistory(setupOrdersTestDB(t))
	page, err := hist.ListAttemptPage(context.Background(), "ord-1", pagination.Params{})
	require.NoError(t, err)
	assert.Empty(t, page.Attempts)
	assert.Empty(t, page.NextCursor)
}
