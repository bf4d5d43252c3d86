package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpgrid/internal/config"
	"perpgrid/internal/exchange"
)

// Params 是引擎的交易参数，从 config.TradingConfig 转换而来，
// 运行期间不可变。所有价格与数量字段使用 decimal。
type Params struct {
	Ticker            string
	ContractID        string
	TickSize          decimal.Decimal
	Quantity          decimal.Decimal
	Direction         exchange.Side
	TakeProfit        decimal.Decimal // 百分比
	GridStep          decimal.Decimal // 百分比
	MaxOrders         int
	WaitTime          time.Duration
	StopPrice         decimal.Decimal // 负数表示关闭
	PausePrice        decimal.Decimal // 负数表示关闭
	BoostMode         bool
	ResubmitRemainder bool
	HoldDuration      time.Duration
	LoopCount         int
}

// CloseSide 始终是开仓方向的反方向。
func (p Params) CloseSide() exchange.Side {
	return p.Direction.Opposite()
}

// Contract returns the contract view used for tick rounding.
func (p Params) Contract() exchange.Contract {
	return exchange.Contract{ID: p.ContractID, Ticker: p.Ticker, TickSize: p.TickSize}
}

// StopEnabled reports whether the stop-price gate is active.
func (p Params) StopEnabled() bool { return p.StopPrice.Sign() >= 0 }

// PauseEnabled reports whether the pause-price gate is active.
func (p Params) PauseEnabled() bool { return p.PausePrice.Sign() >= 0 }

// ParamsFromConfig 将校验过的配置转换为引擎参数。
func ParamsFromConfig(tc config.TradingConfig) (Params, error) {
	direction, err := exchange.ParseSide(tc.Direction)
	if err != nil {
		return Params{}, fmt.Errorf("trading.direction: %w", err)
	}
	p := Params{
		Ticker:            tc.Ticker,
		ContractID:        tc.ContractID,
		Quantity:          decimal.NewFromFloat(tc.Quantity),
		Direction:         direction,
		TakeProfit:        decimal.NewFromFloat(tc.TakeProfit),
		GridStep:          decimal.NewFromFloat(tc.GridStep),
		MaxOrders:         tc.MaxOrders,
		WaitTime:          time.Duration(tc.WaitTime) * time.Second,
		StopPrice:         decimal.NewFromFloat(tc.StopPrice),
		PausePrice:        decimal.NewFromFloat(tc.PausePrice),
		BoostMode:         tc.BoostMode,
		ResubmitRemainder: tc.ResubmitRemainder,
		HoldDuration:      time.Duration(tc.HoldMinutes) * time.Minute,
		LoopCount:         tc.LoopCount,
	}
	return p, nil
}

func (p Params) banner(mode, exchangeName string) string {
	return fmt.Sprintf(`=== Trading Configuration ===
Mode: %s
Exchange: %s
Ticker: %s
Contract ID: %s
Tick Size: %s
Quantity: %s
Direction: %s
Take Profit: %s%%
Grid Step: %s%%
Max Orders: %d
Wait Time: %s
Stop Price: %s
Pause Price: %s
Boost Mode: %t
=============================`,
		mode, exchangeName, p.Ticker, p.ContractID, p.TickSize, p.Quantity,
		p.Direction, p.TakeProfit, p.GridStep, p.MaxOrders, p.WaitTime,
		p.StopPrice, p.PausePrice, p.BoostMode)
}
