package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"perpgrid/internal/exchange"
)

type MockClient struct {
	mock.Mock

	mu      sync.Mutex
	handler func(message any)
}

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) Connect(ctx context.Context) error { return nil }

func (m *MockClient) Disconnect() error { return nil }

func (m *MockClient) GetContractAttributes(ctx context.Context) (exchange.Contract, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.Contract), args.Error(1)
}

func (m *MockClient) PlaceOpenOrder(ctx context.Context, contractID string, quantity decimal.Decimal, side exchange.Side) (exchange.OrderResult, error) {
	args := m.Called(ctx, contractID, quantity, side)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockClient) PlaceCloseOrder(ctx context.Context, contractID string, quantity, price decimal.Decimal, side exchange.Side) (exchange.OrderResult, error) {
	args := m.Called(ctx, contractID, quantity, price, side)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockClient) PlaceMarketOrder(ctx context.Context, contractID string, quantity decimal.Decimal, side exchange.Side) (exchange.OrderResult, error) {
	args := m.Called(ctx, contractID, quantity, side)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

func (m *MockClient) SupportsMarketOrders() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockClient) CancelOrder(ctx context.Context, orderID string) (exchange.CancelResult, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(exchange.CancelResult), args.Error(1)
}

func (m *MockClient) GetOrderInfo(ctx context.Context, orderID string) (exchange.OrderInfo, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(exchange.OrderInfo), args.Error(1)
}

func (m *MockClient) GetActiveOrders(ctx context.Context, contractID string) ([]exchange.ActiveOrder, error) {
	args := m.Called(ctx, contractID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.ActiveOrder), args.Error(1)
}

func (m *MockClient) GetAccountPositions(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockClient) FetchBBOPrices(ctx context.Context, contractID string) (exchange.BBO, error) {
	args := m.Called(ctx, contractID)
	return args.Get(0).(exchange.BBO), args.Error(1)
}

func (m *MockClient) SetupOrderUpdateHandler(handler func(message any)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Push 模拟交易所在自己的 goroutine 上投递一条推送。
func (m *MockClient) Push(message any) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(message)
	}
}

// recordingNotifier 捕获引擎发出的告警文本。
type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) SendText(text string) error {
	n.mu.Lock()
	n.sent = append(n.sent, text)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	copy(out, n.sent)
	return out
}

func testParams() Params {
	return Params{
		Ticker:     "ETH/USDT",
		ContractID: "ETHUSDT",
		TickSize:   decimal.NewFromFloat(0.01),
		Quantity:   decimal.NewFromInt(1),
		Direction:  exchange.SideBuy,
		TakeProfit: decimal.NewFromFloat(0.5),
		GridStep:   decimal.NewFromFloat(0.2),
		MaxOrders:  40,
		WaitTime:   450 * time.Second,
		StopPrice:  decimal.NewFromInt(-1),
		PausePrice: decimal.NewFromInt(-1),
	}
}

// fastPolicy 把所有等待压缩到毫秒级，测试不真等。
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		FillWait:          60 * time.Millisecond,
		HoldFillWait:      60 * time.Millisecond,
		RepriceInterval:   10 * time.Millisecond,
		CancelAckWait:     50 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		TransientRetries:  1,
		TransientDelay:    time.Millisecond,
		CloseRetryMax:     2,
		CloseRetryTimeout: 40 * time.Millisecond,
		Cooldown:          10 * time.Millisecond,
		SettleWait:        0,
	}
}

func newTestEngine(client exchange.Client) *Engine {
	return New(testParams(), fastPolicy(), client, nil, nil)
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}
