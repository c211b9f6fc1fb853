package paper

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T, price float64) *Broker {
	t.Helper()
	quotes := NewMemoryQuotes()
	require.NoError(t, quotes.SetQuote(context.Background(), "NIFTY24JUN18000CE", price, time.Now()))
	return NewBroker(quotes, 0.005, slog.New(slog.DiscardHandler))
}

func TestPlaceOrder(t *testing.T) {
	tests := []struct {
		name      string
		spec      domain.OrderSpec
		wantState domain.OrderStatus
		wantPrice float64
	}{
		{"market buy", domain.OrderSpec{Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 10}, domain.OrderStatusFilled, 100},
		{"marketable buy limit", domain.OrderSpec{Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 10, LimitPrice: 99.6}, domain.OrderStatusFilled, 99.6},
		{"passive buy limit", domain.OrderSpec{Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 10, LimitPrice: 98}, domain.OrderStatusRejected, 0},
		{"marketable sell limit", domain.OrderSpec{Side: domain.SideSell, Type: domain.OrderTypeLimit, Quantity: 10, LimitPrice: 100.4}, domain.OrderStatusFilled, 100.4},
		{"passive sell limit", domain.OrderSpec{Side: domain.SideSell, Type: domain.OrderTypeLimit, Quantity: 10, LimitPrice: 102}, domain.OrderStatusRejected, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBroker(t, 100)
			tt.spec.OrderID = "o1"
			tt.spec.Symbol = "NIFTY24JUN18000CE"
			ack, err := b.PlaceOrder(context.Background(), "ZERODHA", tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, ack.Status)
			assert.Equal(t, "ZERODHA", ack.BrokerID)
			assert.InDelta(t, tt.wantPrice, ack.FilledPrice, 1e-9)
			assert.Equal(t, tt.wantState == domain.OrderStatusFilled, ack.Filled())
		})
	}
}

func TestPlaceOrderErrors(t *testing.T) {
	b := newTestBroker(t, 100)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, "ZERODHA", domain.OrderSpec{Symbol: "NIFTY24JUN18000CE", Side: domain.SideBuy, Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = b.PlaceOrder(ctx, "ZERODHA", domain.OrderSpec{Symbol: "UNKNOWN", Side: domain.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
