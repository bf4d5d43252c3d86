package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"perpgrid/internal/exchange"
	"perpgrid/internal/logger"
)

// emergencyOffsetTicks 紧急限价平仓向对手盘深处让出的跳数。
const emergencyOffsetTicks = 10

// Flatten 是紧急离场入口：撤掉全部挂单，优先市价平仓，市价不可用时
// 用深入对手盘的限价单，最后核对仓位归零。
func (e *Engine) Flatten(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.gracefulShutdown(fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	if err := e.prepare(ctx, "flatten"); err != nil {
		return err
	}
	defer e.disconnect()

	logger.Infof("emergency flatten requested for %s", e.params.Ticker)
	if err := e.cancelAllActiveOrders(ctx); err != nil {
		logger.Warnf("cancelling active orders failed: %v", err)
	}
	e.sleep(ctx, 2*e.policy.SettleWait)

	position, err := e.fetchPosition(ctx)
	if err != nil {
		return fmt.Errorf("fetching position failed: %w", err)
	}
	if position.Abs().LessThan(dustThreshold) {
		logger.Infof("no position to flatten (%s)", position)
		e.gracefulShutdown("flatten complete")
		return nil
	}

	closeSide := exchange.SideSell
	if position.Sign() < 0 {
		closeSide = exchange.SideBuy
	}
	size := position.Abs()

	if e.client.SupportsMarketOrders() {
		if merr := e.marketClose(ctx, size, closeSide); merr != nil {
			logger.Errorf("market flatten failed: %v", merr)
		}
	}

	position, err = e.fetchPosition(ctx)
	if err == nil && position.Abs().GreaterThanOrEqual(dustThreshold) {
		size = position.Abs()
		bbo, berr := e.fetchValidBBO(ctx)
		if berr != nil {
			return fmt.Errorf("fetching prices for emergency limit failed: %w", berr)
		}
		offset := e.params.TickSize.Mul(decimal.NewFromInt(emergencyOffsetTicks))
		var price decimal.Decimal
		if closeSide == exchange.SideSell {
			price = bbo.Bid.Sub(offset)
		} else {
			price = bbo.Ask.Add(offset)
		}
		price = e.params.Contract().RoundToTick(price)
		logger.Warnf("placing emergency limit close: %s %s @ %s", closeSide, size, price)
		res, perr := e.client.PlaceCloseOrder(ctx, e.params.ContractID, size, price, closeSide)
		if perr != nil {
			return fmt.Errorf("emergency limit close failed: %w", perr)
		}
		if !res.Success {
			return fmt.Errorf("emergency limit close rejected: %s", res.ErrorMessage)
		}
		e.waitForOrderFill(ctx, res.OrderID, e.policy.CloseRetryTimeout)
	}

	if err := e.verifyFlat(ctx); err != nil {
		e.sendNotification(fmt.Sprintf("WARNING: [%s_%s]\nEmergency flatten did not fully close the position\n请手动检查剩余仓位", e.client.Name(), e.params.Ticker))
		return err
	}
	e.gracefulShutdown("flatten complete")
	return nil
}
