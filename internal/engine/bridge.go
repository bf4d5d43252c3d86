package engine

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"perpgrid/internal/exchange"
	"perpgrid/internal/logger"
)

// TransactionAppender 记录成交流水。实现方（sqlite 日志）可缺省为 nil。
type TransactionAppender interface {
	Append(orderID string, side string, size, price decimal.Decimal, status string)
}

// Bridge 把交易所在自身 I/O goroutine 上投递的订单推送，转换为控制循环
// 可安全消费的信号。它是唯一允许在控制循环之外写 FillSignal/CancelSignal
// 的地方。
type Bridge struct {
	params Params
	txlog  TransactionAppender

	fill   *eventSignal
	cancel *eventSignal

	mu       sync.Mutex
	tracking string             // 当前在途开仓单 id，空表示无
	current  exchange.OrderInfo // 当前开仓单的最新记录
}

func NewBridge(params Params, txlog TransactionAppender) *Bridge {
	return &Bridge{
		params: params,
		txlog:  txlog,
		fill:   newEventSignal(),
		cancel: newEventSignal(),
	}
}

// BeginLifecycle 清空两个信号并重置当前订单记录。每次下开仓单之前调用，
// 保证同一时刻最多只有一个在途开仓单。
func (b *Bridge) BeginLifecycle() {
	b.fill.Clear()
	b.cancel.Clear()
	b.mu.Lock()
	b.tracking = ""
	b.current = exchange.OrderInfo{Status: exchange.StatusOpen, Side: b.params.Direction}
	b.mu.Unlock()
}

// Track 绑定刚下出的开仓单。
func (b *Bridge) Track(orderID string, price, size decimal.Decimal) {
	b.mu.Lock()
	b.tracking = orderID
	b.current = exchange.OrderInfo{
		OrderID: orderID,
		Side:    b.params.Direction,
		Status:  exchange.StatusOpen,
		Size:    size,
		Price:   price,
	}
	b.mu.Unlock()
}

// CurrentOrder 返回当前开仓单记录的副本。
func (b *Bridge) CurrentOrder() exchange.OrderInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// RecordPollResult 把轮询得到的终态并入当前记录，与推送路径幂等汇合：
// 信号已置位时仅更新记录，不重复触发。
func (b *Bridge) RecordPollResult(info exchange.OrderInfo) {
	b.mu.Lock()
	if b.tracking == "" || info.OrderID != b.tracking {
		b.mu.Unlock()
		return
	}
	b.current.Status = info.Status
	b.current.FilledSize = info.FilledSize
	if info.Price.Sign() > 0 {
		b.current.Price = info.Price
	}
	price := b.current.Price
	b.mu.Unlock()

	switch info.Status {
	case exchange.StatusFilled:
		b.fill.Fire(info.FilledSize, price)
	case exchange.StatusCanceled:
		b.cancel.Fire(info.FilledSize, price)
	}
}

// OnOrderUpdate 是注册给交易所客户端的推送回调，在客户端自己的
// goroutine 上执行，必须不阻塞。消息可能是结构化的 exchange.OrderUpdate，
// 也可能是带相同字段的 map；先归一化再分发。
func (b *Bridge) OnOrderUpdate(message any) {
	upd, ok := normalizeUpdate(message, b.params.ContractID)
	if !ok {
		return
	}

	kind := "CLOSE"
	if upd.Side == b.params.Direction {
		kind = "OPEN"
	}

	isTracked := false
	if kind == "OPEN" {
		b.mu.Lock()
		if b.tracking != "" && upd.OrderID == b.tracking {
			isTracked = true
			b.current.Status = upd.Status
			b.current.FilledSize = upd.FilledSize
			if upd.Price.Sign() > 0 {
				b.current.Price = upd.Price
			}
		}
		b.mu.Unlock()
	}

	switch upd.Status {
	case exchange.StatusFilled:
		if isTracked {
			b.fill.Fire(upd.FilledSize, upd.Price)
		}
		logger.Infof("[%s] [%s] %s %s @ %s", kind, upd.OrderID, upd.Status, upd.Size, upd.Price)
		b.appendTransaction(upd.OrderID, upd.Side, upd.Size, upd.Price, upd.Status)
	case exchange.StatusCanceled:
		if isTracked {
			b.cancel.Fire(upd.FilledSize, upd.Price)
			if upd.FilledSize.Sign() > 0 {
				b.appendTransaction(upd.OrderID, upd.Side, upd.FilledSize, upd.Price, upd.Status)
			}
		}
		logger.Infof("[%s] [%s] %s %s @ %s", kind, upd.OrderID, upd.Status, upd.Size, upd.Price)
	case exchange.StatusPartiallyFilled:
		logger.Infof("[%s] [%s] %s %s @ %s", kind, upd.OrderID, upd.Status, upd.FilledSize, upd.Price)
	default:
		logger.Infof("[%s] [%s] %s %s @ %s", kind, upd.OrderID, upd.Status, upd.Size, upd.Price)
	}
}

func (b *Bridge) appendTransaction(orderID string, side exchange.Side, size, price decimal.Decimal, status exchange.OrderStatus) {
	if b.txlog == nil {
		return
	}
	b.txlog.Append(orderID, string(side), size, price, string(status))
}

// normalizeUpdate 把两种推送变体归一化为一个 OrderUpdate。map 变体带
// contract_id，按配置合约过滤；结构化变体由客户端保证只投递本合约。
func normalizeUpdate(message any, contractID string) (exchange.OrderUpdate, bool) {
	switch m := message.(type) {
	case exchange.OrderUpdate:
		if m.ContractID != "" && contractID != "" && m.ContractID != contractID {
			return exchange.OrderUpdate{}, false
		}
		return m, m.OrderID != ""
	case *exchange.OrderUpdate:
		if m == nil {
			return exchange.OrderUpdate{}, false
		}
		return normalizeUpdate(*m, contractID)
	case map[string]any:
		if cid, ok := stringField(m, "contract_id"); ok && contractID != "" && cid != contractID {
			return exchange.OrderUpdate{}, false
		}
		orderID, _ := stringField(m, "order_id")
		if orderID == "" {
			return exchange.OrderUpdate{}, false
		}
		rawStatus, _ := stringField(m, "status")
		rawSide, _ := stringField(m, "side")
		side, err := exchange.ParseSide(rawSide)
		if err != nil {
			return exchange.OrderUpdate{}, false
		}
		upd := exchange.OrderUpdate{
			OrderID:    orderID,
			Side:       side,
			Status:     exchange.OrderStatus(strings.ToUpper(strings.TrimSpace(rawStatus))),
			Size:       decimalField(m, "size"),
			FilledSize: decimalField(m, "filled_size"),
			Price:      decimalField(m, "price"),
		}
		if cid, ok := stringField(m, "contract_id"); ok {
			upd.ContractID = cid
		}
		return upd, true
	default:
		logger.Warnf("order update with unsupported payload type %T dropped", message)
		return exchange.OrderUpdate{}, false
	}
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

func decimalField(m map[string]any, key string) decimal.Decimal {
	v, ok := m[key]
	if !ok {
		return decimal.Zero
	}
	switch n := v.(type) {
	case decimal.Decimal:
		return n
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	default:
		return decimal.Zero
	}
}
