package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"perpgrid/internal/exchange"
)

func TestPlaceTakeProfitBuyDirection(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	var placed decimal.Decimal
	// 买入开仓 100，止盈 0.5% → 卖出平仓价 100.5
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell).
		Run(func(args mock.Arguments) {
			placed = args.Get(3).(decimal.Decimal)
		}).
		Return(exchange.OrderResult{Success: true, OrderID: "31"}, nil)

	err := e.placeTakeProfit(context.Background(), d("1"), d("100"))
	assert.NoError(t, err)
	assert.True(t, placed.Equal(d("100.5")), "got %s", placed)
}

func TestPlaceTakeProfitSellDirection(t *testing.T) {
	client := &MockClient{}
	params := testParams()
	params.Direction = exchange.SideSell
	e := New(params, fastPolicy(), client, nil, nil)

	var placed decimal.Decimal
	// 卖出开仓 100，止盈 0.5% → 买入平仓价 99.5
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideBuy).
		Run(func(args mock.Arguments) {
			placed = args.Get(3).(decimal.Decimal)
		}).
		Return(exchange.OrderResult{Success: true, OrderID: "32"}, nil)

	err := e.placeTakeProfit(context.Background(), d("1"), d("100"))
	assert.NoError(t, err)
	assert.True(t, placed.Equal(d("99.5")), "got %s", placed)
}

func TestPlaceTakeProfitSnapsToTick(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	var placed decimal.Decimal
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell).
		Run(func(args mock.Arguments) {
			placed = args.Get(3).(decimal.Decimal)
		}).
		Return(exchange.OrderResult{Success: true, OrderID: "33"}, nil)

	// 99.99 × 1.005 = 100.48995，tick 0.01 → 100.49
	err := e.placeTakeProfit(context.Background(), d("1"), d("99.99"))
	assert.NoError(t, err)
	assert.True(t, placed.Equal(d("100.49")), "got %s", placed)
}

func TestPlaceTakeProfitBoostUsesMarket(t *testing.T) {
	client := &MockClient{}
	params := testParams()
	params.BoostMode = true
	e := New(params, fastPolicy(), client, nil, nil)

	client.On("SupportsMarketOrders").Return(true)
	client.On("PlaceMarketOrder", mock.Anything, "ETHUSDT", mock.Anything, exchange.SideSell).
		Return(exchange.OrderResult{Success: true, OrderID: "34"}, nil)

	assert.NoError(t, e.placeTakeProfit(context.Background(), d("1"), d("100")))
	client.AssertNotCalled(t, "PlaceCloseOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPlaceTakeProfitRejectedSurfacesError(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell).
		Return(exchange.OrderResult{Success: false, ErrorMessage: "price out of range"}, nil)

	err := e.placeTakeProfit(context.Background(), d("1"), d("100"))
	assert.ErrorIs(t, err, ErrPlacementFailure)
}

func TestClosePositionDustIsNoop(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	client.On("GetActiveOrders", mock.Anything, "ETHUSDT").Return([]exchange.ActiveOrder{}, nil)
	client.On("GetAccountPositions", mock.Anything).Return(d("0.0005"), nil)

	assert.NoError(t, e.ClosePosition(context.Background()))
	client.AssertNotCalled(t, "PlaceCloseOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClosePositionLimitFillFirstAttempt(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	var placed decimal.Decimal
	client.On("GetActiveOrders", mock.Anything, "ETHUSDT").Return([]exchange.ActiveOrder{}, nil)
	client.On("GetAccountPositions", mock.Anything).Return(d("1"), nil).Twice()
	client.On("GetAccountPositions", mock.Anything).Return(d("0"), nil)
	client.On("FetchBBOPrices", mock.Anything, "ETHUSDT").
		Return(exchange.BBO{Bid: d("100"), Ask: d("100.1")}, nil)
	// 第一次尝试直接贴买一价
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell).
		Run(func(args mock.Arguments) {
			placed = args.Get(3).(decimal.Decimal)
		}).
		Return(exchange.OrderResult{Success: true, OrderID: "41"}, nil)
	client.On("GetOrderInfo", mock.Anything, "41").
		Return(exchange.OrderInfo{OrderID: "41", Status: exchange.StatusFilled, FilledSize: d("1"), Price: d("100")}, nil)

	assert.NoError(t, e.ClosePosition(context.Background()))
	assert.True(t, placed.Equal(d("100")), "got %s", placed)
}

func TestClosePositionEscalatesPrice(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	var prices []decimal.Decimal
	client.On("GetActiveOrders", mock.Anything, "ETHUSDT").Return([]exchange.ActiveOrder{}, nil)
	client.On("GetAccountPositions", mock.Anything).Return(d("1"), nil).Times(3)
	client.On("GetAccountPositions", mock.Anything).Return(d("0"), nil)
	client.On("FetchBBOPrices", mock.Anything, "ETHUSDT").
		Return(exchange.BBO{Bid: d("100"), Ask: d("100.1")}, nil)
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell).
		Run(func(args mock.Arguments) {
			prices = append(prices, args.Get(3).(decimal.Decimal))
		}).
		Return(exchange.OrderResult{Success: true, OrderID: "42"}, nil).Once()
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell).
		Run(func(args mock.Arguments) {
			prices = append(prices, args.Get(3).(decimal.Decimal))
		}).
		Return(exchange.OrderResult{Success: true, OrderID: "43"}, nil)
	// 第一张一直不成交，撤掉后第二张成交
	client.On("GetOrderInfo", mock.Anything, "42").
		Return(exchange.OrderInfo{OrderID: "42", Status: exchange.StatusOpen}, nil)
	client.On("CancelOrder", mock.Anything, "42").
		Return(exchange.CancelResult{Success: true}, nil)
	client.On("GetOrderInfo", mock.Anything, "43").
		Return(exchange.OrderInfo{OrderID: "43", Status: exchange.StatusFilled, FilledSize: d("1"), Price: d("99.99")}, nil)

	assert.NoError(t, e.ClosePosition(context.Background()))
	if assert.Len(t, prices, 2) {
		assert.True(t, prices[0].Equal(d("100")), "got %s", prices[0])
		// 第二次尝试向对手盘让出一跳
		assert.True(t, prices[1].Equal(d("99.99")), "got %s", prices[1])
	}
}

func TestClosePositionMarketFallback(t *testing.T) {
	client := &MockClient{}
	params := testParams()
	policy := fastPolicy()
	policy.CloseRetryMax = 1
	e := New(params, policy, client, nil, nil)

	client.On("GetActiveOrders", mock.Anything, "ETHUSDT").Return([]exchange.ActiveOrder{}, nil)
	client.On("GetAccountPositions", mock.Anything).Return(d("1"), nil).Times(3)
	client.On("GetAccountPositions", mock.Anything).Return(d("0"), nil)
	client.On("FetchBBOPrices", mock.Anything, "ETHUSDT").
		Return(exchange.BBO{Bid: d("100"), Ask: d("100.1")}, nil)
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideSell).
		Return(exchange.OrderResult{Success: true, OrderID: "51"}, nil)
	client.On("GetOrderInfo", mock.Anything, "51").
		Return(exchange.OrderInfo{OrderID: "51", Status: exchange.StatusOpen}, nil)
	client.On("CancelOrder", mock.Anything, "51").
		Return(exchange.CancelResult{Success: true}, nil)
	client.On("SupportsMarketOrders").Return(true)
	client.On("PlaceMarketOrder", mock.Anything, "ETHUSDT", mock.Anything, exchange.SideSell).
		Return(exchange.OrderResult{Success: true, OrderID: "52"}, nil)

	assert.NoError(t, e.ClosePosition(context.Background()))
	client.AssertCalled(t, "PlaceMarketOrder", mock.Anything, "ETHUSDT", mock.Anything, exchange.SideSell)
}

func TestClosePositionShortUsesBuy(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	var placed decimal.Decimal
	client.On("GetActiveOrders", mock.Anything, "ETHUSDT").Return([]exchange.ActiveOrder{}, nil)
	client.On("GetAccountPositions", mock.Anything).Return(d("-1"), nil).Twice()
	client.On("GetAccountPositions", mock.Anything).Return(d("0"), nil)
	client.On("FetchBBOPrices", mock.Anything, "ETHUSDT").
		Return(exchange.BBO{Bid: d("100"), Ask: d("100.1")}, nil)
	client.On("PlaceCloseOrder", mock.Anything, "ETHUSDT", mock.Anything, mock.Anything, exchange.SideBuy).
		Run(func(args mock.Arguments) {
			placed = args.Get(3).(decimal.Decimal)
		}).
		Return(exchange.OrderResult{Success: true, OrderID: "61"}, nil)
	client.On("GetOrderInfo", mock.Anything, "61").
		Return(exchange.OrderInfo{OrderID: "61", Status: exchange.StatusFilled, FilledSize: d("1"), Price: d("100.1")}, nil)

	assert.NoError(t, e.ClosePosition(context.Background()))
	// 空头用买单平，首次贴卖一价
	assert.True(t, placed.Equal(d("100.1")), "got %s", placed)
}

func TestVerifyFlatResidualPosition(t *testing.T) {
	client := &MockClient{}
	e := newTestEngine(client)

	client.On("GetAccountPositions", mock.Anything).Return(d("0.5"), nil)

	err := e.verifyFlat(context.Background())
	assert.ErrorIs(t, err, ErrReconciliationUncertain)
}
