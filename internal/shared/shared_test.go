package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMoneyHelpers(t *testing.T) {
	assert.Equal(t, "10.13", FormatMoney(RoundMoney(dec("10.125"))))
	assert.Equal(t, "-10.13", FormatMoney(RoundMoney(dec("-10.125"))))
	assert.Equal(t, "33.33", FormatMoney(Percent(dec("333.33"), dec("10"))))
	assert.True(t, NonNegative(dec("-0.01")).IsZero())
	assert.Equal(t, "5.00", FormatMoney(NonNegative(dec("5"))))

	assert.True(t, ValidPercent(decimal.Zero))
	assert.True(t, ValidPercent(dec("100")))
	assert.False(t, ValidPercent(dec("100.01")))
	assert.False(t, ValidPercent(dec("-1")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(fmt.Errorf("%w: claim locked", ErrInvalidState)))
	assert.False(t, IsRetryable(ErrIdempotencyConflict))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(errors.New("connection reset by peer")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}

func TestActorContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, SystemActor, ActorFromContext(ctx))
	assert.Equal(t, SystemActor, ActorFromContext(ContextWithActor(ctx, "")))
	assert.Equal(t, "cashier-1", ActorFromContext(ContextWithActor(ctx, "cashier-1")))
}

func TestIdempotencyStoreWithoutPool(t *testing.T) {
	var store *IdempotencyStore
	assert.Error(t, store.CheckAndInsert(context.Background(), "pay-1", "corporate"))
	assert.NoError(t, store.Delete(context.Background(), "pay-1", "corporate"))

	store = NewIdempotencyStore(nil)
	assert.Error(t, store.CheckAndInsert(context.Background(), "pay-1", "corporate"))
}
