package exchange

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the complementary side; a buy closes with a sell and vice
// versa.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide normalizes a free-form side string ("BUY", "Sell", ...).
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side: %q", raw)
	}
}

// OrderStatus 是引擎内部统一的订单状态。
type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether no further fills can happen for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// Contract 描述一个可交易合约及其最小报价步长。
type Contract struct {
	ID       string
	Ticker   string
	TickSize decimal.Decimal
}

// RoundToTick snaps price onto the contract's tick grid.
func (c Contract) RoundToTick(price decimal.Decimal) decimal.Decimal {
	if c.TickSize.IsZero() {
		return price
	}
	steps := price.Div(c.TickSize).Round(0)
	return steps.Mul(c.TickSize)
}

// OrderResult 是下单接口的统一返回。
type OrderResult struct {
	Success      bool
	OrderID      string
	Price        decimal.Decimal
	Status       OrderStatus
	ErrorMessage string
}

// CancelResult 是撤单接口的统一返回。部分交易所在撤单回执里带上已成交数量。
type CancelResult struct {
	Success      bool
	FilledSize   decimal.Decimal
	ErrorMessage string
}

// OrderInfo 是订单查询接口的统一返回。
type OrderInfo struct {
	OrderID    string
	Side       Side
	Status     OrderStatus
	Size       decimal.Decimal
	FilledSize decimal.Decimal
	Price      decimal.Decimal
}

// ActiveOrder 描述一个当前仍挂在盘口上的订单。
type ActiveOrder struct {
	OrderID string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	Status  OrderStatus
}

// BBO 是盘口最优买卖价。
type BBO struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Validate enforces the market-data contract: both sides positive and the
// book not crossed. A zero or crossed book means no usable market data.
func (b BBO) Validate() error {
	if b.Bid.Sign() <= 0 || b.Ask.Sign() <= 0 || b.Bid.GreaterThanOrEqual(b.Ask) {
		return fmt.Errorf("%w: bid=%s ask=%s", ErrPriceUnavailable, b.Bid, b.Ask)
	}
	return nil
}

// ExecutablePrice returns the price a taker on the given side would pay.
func (b BBO) ExecutablePrice(side Side) decimal.Decimal {
	if side == SideBuy {
		return b.Ask
	}
	return b.Bid
}

// OrderUpdate 是推送回调的结构化消息变体。ContractID 为空表示消息源
// 不区分合约（由注册方自行过滤）。
type OrderUpdate struct {
	OrderID    string
	ContractID string
	Side       Side
	Status     OrderStatus
	Size       decimal.Decimal
	FilledSize decimal.Decimal
	Price      decimal.Decimal
}
