package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"perpgrid/internal/exchange"
	"perpgrid/internal/logger"
)

// dustThreshold 以下的仓位视为已平干净，不再追单。
var dustThreshold = decimal.NewFromFloat(0.001)

// placeTakeProfit 为一笔成交的开仓挂出止盈平仓单。boost 模式下若交易所
// 支持市价单则直接市价离场，否则按贴盘口的激进限价。
func (e *Engine) placeTakeProfit(ctx context.Context, filledSize, fillPrice decimal.Decimal) error {
	closeSide := e.params.CloseSide()

	if e.params.BoostMode {
		if e.client.SupportsMarketOrders() {
			res, err := e.client.PlaceMarketOrder(ctx, e.params.ContractID, filledSize, closeSide)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPlacementFailure, err)
			}
			if !res.Success {
				return fmt.Errorf("%w: %s", ErrPlacementFailure, res.ErrorMessage)
			}
			logger.Infof("[CLOSE] [%s] market order placed for %s", res.OrderID, filledSize)
			return nil
		}
		// 不支持市价，退化为贴盘口限价
		bbo, err := e.fetchValidBBO(ctx)
		if err != nil {
			return err
		}
		price := e.params.Contract().RoundToTick(bbo.ExecutablePrice(closeSide))
		res, err := e.client.PlaceCloseOrder(ctx, e.params.ContractID, filledSize, price, closeSide)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPlacementFailure, err)
		}
		if !res.Success {
			return fmt.Errorf("%w: %s", ErrPlacementFailure, res.ErrorMessage)
		}
		logger.Infof("[CLOSE] [%s] aggressive close placed: %s @ %s", res.OrderID, filledSize, price)
		return nil
	}

	hundred := decimal.NewFromInt(100)
	tpFactor := e.params.TakeProfit.Div(hundred)
	var price decimal.Decimal
	if closeSide == exchange.SideSell {
		price = fillPrice.Mul(decimal.NewFromInt(1).Add(tpFactor))
	} else {
		price = fillPrice.Mul(decimal.NewFromInt(1).Sub(tpFactor))
	}
	price = e.params.Contract().RoundToTick(price)

	res, err := e.client.PlaceCloseOrder(ctx, e.params.ContractID, filledSize, price, closeSide)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlacementFailure, err)
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrPlacementFailure, res.ErrorMessage)
	}
	logger.Infof("[CLOSE] [%s] take profit placed: %s @ %s", res.OrderID, filledSize, price)
	return nil
}

// ClosePosition 把当前合约仓位全部平掉：先撤掉所有在挂单，然后按
// 逐次加价的限价单升级，限价次数用尽后转市价，最后核对仓位归零。
func (e *Engine) ClosePosition(ctx context.Context) error {
	if err := e.cancelAllActiveOrders(ctx); err != nil {
		logger.Warnf("cancelling active orders before close failed: %v", err)
	}
	e.sleep(ctx, e.policy.SettleWait)

	position, err := e.fetchPosition(ctx)
	if err != nil {
		return fmt.Errorf("fetching position before close failed: %w", err)
	}
	if position.Abs().LessThan(dustThreshold) {
		logger.Infof("no position to close (%s)", position)
		return nil
	}

	// 多头用卖平，空头用买平
	closeSide := exchange.SideSell
	if position.Sign() < 0 {
		closeSide = exchange.SideBuy
	}
	size := position.Abs()
	logger.Infof("closing position: %s %s %s", closeSide, size, e.params.Ticker)

	if e.params.BoostMode && e.client.SupportsMarketOrders() {
		if err := e.marketClose(ctx, size, closeSide); err != nil {
			return err
		}
		return e.verifyFlat(ctx)
	}

	for attempt := 1; attempt <= e.policy.CloseRetryMax; attempt++ {
		if e.ShutdownRequested() || ctx.Err() != nil {
			break
		}
		position, err = e.fetchPosition(ctx)
		if err != nil {
			logger.Warnf("refreshing position failed: %v", err)
			e.sleep(ctx, e.policy.TransientDelay)
			continue
		}
		size = position.Abs()
		if size.LessThan(dustThreshold) {
			return nil
		}

		bbo, err := e.fetchValidBBO(ctx)
		if err != nil {
			logger.Warnf("fetching prices for close attempt %d failed: %v", attempt, err)
			e.sleep(ctx, e.policy.TransientDelay)
			continue
		}
		// 每次尝试都比上一次更往对手盘里走一格
		offset := e.params.TickSize.Mul(decimal.NewFromInt(int64(attempt - 1)))
		var price decimal.Decimal
		if closeSide == exchange.SideSell {
			price = bbo.Bid.Sub(offset)
		} else {
			price = bbo.Ask.Add(offset)
		}
		price = e.params.Contract().RoundToTick(price)

		logger.Infof("close attempt %d/%d: %s %s @ %s", attempt, e.policy.CloseRetryMax, closeSide, size, price)
		res, err := e.client.PlaceCloseOrder(ctx, e.params.ContractID, size, price, closeSide)
		if err != nil || !res.Success {
			if err != nil {
				logger.Errorf("close attempt %d placement error: %v", attempt, err)
			} else {
				logger.Warnf("close attempt %d rejected: %s", attempt, res.ErrorMessage)
			}
			e.sleep(ctx, e.policy.TransientDelay)
			continue
		}

		if _, filled := e.waitForOrderFill(ctx, res.OrderID, e.policy.CloseRetryTimeout); filled {
			return e.verifyFlat(ctx)
		}
		if cres, cerr := e.client.CancelOrder(ctx, res.OrderID); cerr != nil {
			logger.Errorf("cancelling unfilled close order %s failed: %v", res.OrderID, cerr)
		} else if !cres.Success {
			logger.Warnf("cancelling unfilled close order %s rejected: %s", res.OrderID, cres.ErrorMessage)
		}
		e.sleep(ctx, e.policy.SettleWait)
	}

	// 限价次数用尽，市价兜底
	position, err = e.fetchPosition(ctx)
	if err != nil {
		return fmt.Errorf("fetching position for market fallback failed: %w", err)
	}
	size = position.Abs()
	if size.LessThan(dustThreshold) {
		return nil
	}
	if !e.client.SupportsMarketOrders() {
		return fmt.Errorf("%w: limit close attempts exhausted and market orders unsupported", ErrReconciliationUncertain)
	}
	logger.Warnf("limit close attempts exhausted, falling back to market order")
	if err := e.marketClose(ctx, size, closeSide); err != nil {
		return err
	}
	return e.verifyFlat(ctx)
}

func (e *Engine) marketClose(ctx context.Context, size decimal.Decimal, closeSide exchange.Side) error {
	res, err := e.client.PlaceMarketOrder(ctx, e.params.ContractID, size, closeSide)
	if err != nil {
		return fmt.Errorf("market close failed: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("market close rejected: %s", res.ErrorMessage)
	}
	logger.Infof("[CLOSE] [%s] market close placed for %s", res.OrderID, size)
	e.sleep(ctx, e.policy.SettleWait)
	return nil
}

// verifyFlat 平仓后多次核对仓位是否归零，残余超过尘埃阈值则上报。
func (e *Engine) verifyFlat(ctx context.Context) error {
	const attempts = 3
	var position decimal.Decimal
	for i := 0; i < attempts; i++ {
		pos, err := e.fetchPosition(ctx)
		if err != nil {
			logger.Warnf("verifying position failed: %v", err)
		} else {
			position = pos
			if position.Abs().LessThan(dustThreshold) {
				logger.Infof("position fully closed")
				return nil
			}
			logger.Warnf("residual position %s after close, re-checking", position)
		}
		if !e.sleep(ctx, e.policy.PollInterval) {
			break
		}
	}
	return fmt.Errorf("%w: residual position %s", ErrReconciliationUncertain, position)
}

func (e *Engine) cancelAllActiveOrders(ctx context.Context) error {
	orders, err := e.client.GetActiveOrders(ctx, e.params.ContractID)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if res, err := e.client.CancelOrder(ctx, o.OrderID); err != nil {
			logger.Errorf("cancelling order %s failed: %v", o.OrderID, err)
		} else if !res.Success {
			logger.Warnf("cancelling order %s rejected: %s", o.OrderID, res.ErrorMessage)
		} else {
			logger.Infof("cancelled order %s", o.OrderID)
		}
	}
	return nil
}

func (e *Engine) fetchPosition(ctx context.Context) (decimal.Decimal, error) {
	var lastErr error
	for i := 0; i < e.policy.TransientRetries; i++ {
		pos, err := e.client.GetAccountPositions(ctx)
		if err == nil {
			e.mu.Lock()
			e.position = pos
			e.mu.Unlock()
			return pos, nil
		}
		lastErr = err
		if !e.sleep(ctx, e.policy.TransientDelay) {
			break
		}
	}
	return decimal.Zero, lastErr
}
