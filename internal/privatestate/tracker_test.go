package privatestate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

type fakePrivate struct {
	name     model.ExchangeName
	balances []model.AssetBalance
	orders   []model.Order
}

func (f fakePrivate) Name() model.ExchangeName { return f.name }

func (f fakePrivate) PlaceOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, typ model.OrderType, tif model.TimeInForce, qty, price float64) (model.Order, error) {
	return model.Order{}, nil
}

func (f fakePrivate) CancelOrder(ctx context.Context, symbol model.Symbol, orderID model.OrderID) error {
	return nil
}

func (f fakePrivate) GetOrder(ctx context.Context, symbol model.Symbol, orderID model.OrderID) (model.Order, error) {
	return model.Order{}, nil
}

func (f fakePrivate) GetOpenOrders(ctx context.Context, symbol model.Symbol) ([]model.Order, error) {
	return f.orders, nil
}

func (f fakePrivate) GetBalances(ctx context.Context) ([]model.AssetBalance, error) {
	return f.balances, nil
}

func (f fakePrivate) StreamPrivate(ctx context.Context, h exchange.PrivateHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTracker_Resync_ReplacesBalancesAndOpenOrders(t *testing.T) {
	ex := fakePrivate{
		name:     "gateio",
		balances: []model.AssetBalance{{Asset: "USDT", Exchange: "gateio", Free: 1000, Locked: 0}},
		orders: []model.Order{
			{OrderID: "o1", Status: model.OrderStatusNew},
			{OrderID: "o2", Status: model.OrderStatusFilled}, // terminal, excluded
		},
	}
	tr := New(ex, 1.0, nil)

	require.NoError(t, tr.Resync(context.Background()))

	bal, ok := tr.Balance("USDT")
	require.True(t, ok)
	assert.Equal(t, 1000.0, bal.Free)

	open := tr.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, model.OrderID("o1"), open[0].OrderID)
}

func TestTracker_OnOrderUpdate_EvictsTerminalOrders(t *testing.T) {
	tr := New(fakePrivate{name: "gateio"}, 1.0, nil)

	tr.OnOrderUpdate(model.Order{OrderID: "o1", Status: model.OrderStatusNew})
	_, ok := tr.Order("o1")
	require.True(t, ok)

	tr.OnOrderUpdate(model.Order{OrderID: "o1", Status: model.OrderStatusFilled})
	_, ok = tr.Order("o1")
	assert.False(t, ok, "terminal order must be evicted from the open-orders map")

	reports := tr.RecentReports()
	require.Len(t, reports, 2)
	assert.Equal(t, model.OrderStatusFilled, reports[1].Order.Status)
}

func TestTracker_OnBalanceUpdate_LogsButDoesNotErrorOnLargeDelta(t *testing.T) {
	tr := New(fakePrivate{name: "gateio"}, 0.5, nil)

	tr.OnBalanceUpdate(model.AssetBalance{Asset: "USDT", Free: 1000})
	tr.OnBalanceUpdate(model.AssetBalance{Asset: "USDT", Free: 500}) // delta 500 > tolerance 0.5

	bal, ok := tr.Balance("USDT")
	require.True(t, ok)
	assert.Equal(t, 500.0, bal.Free)
}

func TestTracker_RecentReports_WrapsAtCapacity(t *testing.T) {
	tr := New(fakePrivate{name: "gateio"}, 1.0, nil)

	for i := 0; i < executionReportBufferSize+10; i++ {
		tr.OnOrderUpdate(model.Order{OrderID: model.OrderID("o"), Status: model.OrderStatusPartiallyFilled, FilledQuantity: float64(i)})
	}

	reports := tr.RecentReports()
	assert.Len(t, reports, executionReportBufferSize)
	// The ring should hold the most recent entries: the last pushed fill
	// quantity is executionReportBufferSize+9.
	assert.Equal(t, float64(executionReportBufferSize+9), reports[len(reports)-1].Order.FilledQuantity)
}
