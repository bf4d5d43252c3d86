package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"perpgrid/internal/exchange"
)

func newTestBridge() *Bridge {
	return NewBridge(testParams(), nil)
}

func TestBridgeStructVariantFiresFill(t *testing.T) {
	b := newTestBridge()
	b.BeginLifecycle()
	b.Track("101", d("100"), d("1"))

	b.OnOrderUpdate(exchange.OrderUpdate{
		OrderID:    "101",
		ContractID: "ETHUSDT",
		Side:       exchange.SideBuy,
		Status:     exchange.StatusFilled,
		Size:       d("1"),
		FilledSize: d("1"),
		Price:      d("100"),
	})

	assert.True(t, b.fill.Fired())
	size, price, _ := b.fill.Payload()
	assert.True(t, size.Equal(d("1")))
	assert.True(t, price.Equal(d("100")))
}

func TestBridgeMapVariantFiresFill(t *testing.T) {
	b := newTestBridge()
	b.BeginLifecycle()
	b.Track("101", d("100"), d("1"))

	b.OnOrderUpdate(map[string]any{
		"order_id":    "101",
		"contract_id": "ETHUSDT",
		"side":        "buy",
		"status":      "FILLED",
		"size":        "1",
		"filled_size": "1",
		"price":       "100.5",
	})

	assert.True(t, b.fill.Fired())
	_, price, _ := b.fill.Payload()
	assert.True(t, price.Equal(d("100.5")))
}

func TestBridgeFiltersForeignContract(t *testing.T) {
	b := newTestBridge()
	b.BeginLifecycle()
	b.Track("101", d("100"), d("1"))

	b.OnOrderUpdate(map[string]any{
		"order_id":    "101",
		"contract_id": "BTCUSDT",
		"side":        "buy",
		"status":      "FILLED",
		"filled_size": "1",
		"price":       "100",
	})

	assert.False(t, b.fill.Fired())
}

func TestBridgeIgnoresUntrackedOrder(t *testing.T) {
	b := newTestBridge()
	b.BeginLifecycle()
	b.Track("101", d("100"), d("1"))

	b.OnOrderUpdate(exchange.OrderUpdate{
		OrderID:    "999",
		Side:       exchange.SideBuy,
		Status:     exchange.StatusFilled,
		FilledSize: d("1"),
		Price:      d("100"),
	})

	assert.False(t, b.fill.Fired())
}

func TestBridgeCloseSideDoesNotFireFill(t *testing.T) {
	b := newTestBridge()
	b.BeginLifecycle()
	b.Track("101", d("100"), d("1"))

	// 平仓方向（sell）的成交是另一张订单的事，不影响开仓信号
	b.OnOrderUpdate(exchange.OrderUpdate{
		OrderID:    "101",
		Side:       exchange.SideSell,
		Status:     exchange.StatusFilled,
		FilledSize: d("1"),
		Price:      d("101"),
	})

	assert.False(t, b.fill.Fired())
}

func TestBridgeCancelWithPartialFill(t *testing.T) {
	b := newTestBridge()
	b.BeginLifecycle()
	b.Track("101", d("100"), d("1"))

	b.OnOrderUpdate(map[string]any{
		"order_id":    "101",
		"contract_id": "ETHUSDT",
		"side":        "buy",
		"status":      "CANCELED",
		"size":        "1",
		"filled_size": "0.4",
		"price":       "100",
	})

	assert.True(t, b.cancel.Fired())
	size, _, _ := b.cancel.Payload()
	assert.True(t, size.Equal(d("0.4")))
}

func TestBridgePollAndPushConverge(t *testing.T) {
	b := newTestBridge()
	b.BeginLifecycle()
	b.Track("101", d("100"), d("1"))

	b.RecordPollResult(exchange.OrderInfo{
		OrderID:    "101",
		Status:     exchange.StatusFilled,
		FilledSize: d("1"),
		Price:      d("100"),
	})
	assert.True(t, b.fill.Fired())

	// 推送随后到达，信号不被改写
	b.OnOrderUpdate(exchange.OrderUpdate{
		OrderID:    "101",
		Side:       exchange.SideBuy,
		Status:     exchange.StatusFilled,
		FilledSize: d("0.9"),
		Price:      d("99"),
	})
	size, price, _ := b.fill.Payload()
	assert.True(t, size.Equal(d("1")))
	assert.True(t, price.Equal(d("100")))
}

func TestBridgeBeginLifecycleResetsSignals(t *testing.T) {
	b := newTestBridge()
	b.BeginLifecycle()
	b.Track("101", d("100"), d("1"))
	b.fill.Fire(d("1"), d("100"))

	b.BeginLifecycle()
	assert.False(t, b.fill.Fired())
	assert.False(t, b.cancel.Fired())
	assert.Equal(t, "", b.CurrentOrder().OrderID)
}

func TestNormalizeUpdateDropsMalformed(t *testing.T) {
	_, ok := normalizeUpdate(map[string]any{"side": "buy", "status": "FILLED"}, "ETHUSDT")
	assert.False(t, ok)

	_, ok = normalizeUpdate(map[string]any{"order_id": "1", "side": "hold", "status": "FILLED"}, "ETHUSDT")
	assert.False(t, ok)

	_, ok = normalizeUpdate(42, "ETHUSDT")
	assert.False(t, ok)
}

func TestNormalizeUpdateNumericFields(t *testing.T) {
	upd, ok := normalizeUpdate(map[string]any{
		"order_id":    "7",
		"side":        "sell",
		"status":      "PARTIALLY_FILLED",
		"size":        1.5,
		"filled_size": int64(1),
		"price":       d("3200.25"),
	}, "")
	assert.True(t, ok)
	assert.Equal(t, exchange.SideSell, upd.Side)
	assert.True(t, upd.Size.Equal(d("1.5")))
	assert.True(t, upd.FilledSize.Equal(d("1")))
	assert.True(t, upd.Price.Equal(d("3200.25")))
}
