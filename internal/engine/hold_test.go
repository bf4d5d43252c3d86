package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"perpgrid/internal/exchange"
)

func TestEnsureFlatWithCleanState(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	client.On("GetAccountPositions", mock.Anything).Return(d("0"), nil)
	client.On("GetActiveOrders", mock.Anything, "ETHUSDT").Return([]exchange.ActiveOrder{}, nil)

	assert.NoError(t, e.ensureFlat(context.Background()))
	client.AssertNotCalled(t, "PlaceCloseOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsureFlatClosesResidual(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	// 先看到残余仓位，平掉之后再核对为 0
	client.On("GetAccountPositions", mock.Anything).Return(d("0.5"), nil).Times(3)
	client.On("GetAccountPositions", mock.Anything).Return(d("0"), nil)
	client.On("GetActiveOrders", mock.Anything, "ETHUSDT").Return([]exchange.ActiveOrder{}, nil)
	client.On("FetchBBOPrices", mock.Anything, "ETHUSDT").
		Return(exchange.BBO{Bid: d("100"), Ask: d("100.1")}, nil)
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell).
		Return(exchange.OrderResult{Success: true, OrderID: "71"}, nil)
	client.On("GetOrderInfo", mock.Anything, "71").
		Return(exchange.OrderInfo{OrderID: "71", Status: exchange.StatusFilled, FilledSize: d("0.5"), Price: d("100")}, nil)

	assert.NoError(t, e.ensureFlat(context.Background()))
	client.AssertCalled(t, "PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell)
}

func TestOpenWithFallbackUsesMarketOrder(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	client.On("PlaceOpenOrder", mock.Anything, "ETHUSDT", mock.Anything, exchange.SideBuy).
		Return(exchange.OrderResult{}, errors.New("rest timeout"))
	client.On("SupportsMarketOrders").Return(true)
	client.On("PlaceMarketOrder", mock.Anything, "ETHUSDT", mock.Anything, exchange.SideBuy).
		Return(exchange.OrderResult{Success: true, OrderID: "72", Price: d("100")}, nil)
	client.On("GetOrderInfo", mock.Anything, "72").
		Return(exchange.OrderInfo{OrderID: "72", Status: exchange.StatusFilled, FilledSize: d("1"), Price: d("100.05")}, nil)

	res, err := e.openWithFallback(context.Background())
	assert.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.FilledSize.Equal(d("1")))
	assert.True(t, res.FilledPrice.Equal(d("100.05")))
}

func TestOpenWithFallbackNoMarketSupport(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	client.On("PlaceOpenOrder", mock.Anything, "ETHUSDT", mock.Anything, exchange.SideBuy).
		Return(exchange.OrderResult{Success: false, ErrorMessage: "rejected"}, nil)
	client.On("SupportsMarketOrders").Return(false)

	_, err := e.openWithFallback(context.Background())
	assert.ErrorIs(t, err, ErrPlacementFailure)
	client.AssertNotCalled(t, "PlaceMarketOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
