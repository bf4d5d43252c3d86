package engine

import (
	"context"
	"fmt"
	"time"

	"perpgrid/internal/logger"
)

// RunHold 执行持仓模式：开仓后持有固定时长再全部平掉，重复 LoopCount
// 轮（-1 表示无限）。和网格模式共用开仓与平仓路径，但不挂止盈单。
func (e *Engine) RunHold(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.gracefulShutdown(fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	if err := e.prepare(ctx, "hold"); err != nil {
		return err
	}
	defer e.disconnect()

	loop := 0
	for !e.ShutdownRequested() && ctx.Err() == nil {
		if e.params.LoopCount >= 0 && loop >= e.params.LoopCount {
			logger.Infof("completed %d hold loops, exiting", loop)
			break
		}
		loop++
		logger.Infof("=== hold loop %d start ===", loop)

		if err := e.ensureFlat(ctx); err != nil {
			logger.Errorf("could not flatten before opening: %v", err)
			e.recordError(err)
			e.gracefulShutdown("flatten before open failed")
			return err
		}

		e.setState(StatePlacingOpen)
		res, err := e.openWithFallback(ctx)
		if err != nil {
			logger.Errorf("open failed in hold loop %d: %v", loop, err)
			e.recordError(err)
			e.setState(StateConnected)
			e.sleep(ctx, e.policy.Cooldown)
			continue
		}
		if !res.Success || res.FilledSize.Sign() == 0 {
			logger.Warnf("nothing filled in hold loop %d, cooling down", loop)
			e.setState(StateConnected)
			e.sleep(ctx, e.policy.Cooldown)
			continue
		}

		logger.Infof("holding %s %s for %s", res.FilledSize, e.params.Ticker, e.params.HoldDuration)
		e.setState(StateWaitingClose)
		e.holdFor(ctx, e.params.HoldDuration)

		if err := e.ClosePosition(ctx); err != nil {
			logger.Errorf("closing position in hold loop %d failed: %v", loop, err)
			e.recordError(err)
			e.gracefulShutdown("close position failed")
			return err
		}
		e.setState(StateConnected)
		e.sleep(ctx, e.policy.Cooldown)
	}

	e.gracefulShutdown("hold loop exit")
	return ctx.Err()
}

// ensureFlat 在新一轮开仓前确认没有遗留仓位和挂单。
func (e *Engine) ensureFlat(ctx context.Context) error {
	position, err := e.fetchPosition(ctx)
	if err != nil {
		return fmt.Errorf("fetching position failed: %w", err)
	}
	if position.Abs().GreaterThanOrEqual(dustThreshold) {
		logger.Warnf("residual position %s before opening, closing first", position)
		if err := e.ClosePosition(ctx); err != nil {
			return err
		}
		e.sleep(ctx, e.policy.Cooldown)
	}

	if err := e.cancelAllActiveOrders(ctx); err != nil {
		logger.Warnf("cancelling stray orders failed: %v", err)
	}
	e.sleep(ctx, e.policy.SettleWait)
	return nil
}

// openWithFallback 先走限价开仓路径；限价没有任何成交且交易所支持市价
// 时改用市价单补一次。
func (e *Engine) openWithFallback(ctx context.Context) (OpenResult, error) {
	res, err := e.placeAndAwaitOpen(ctx, e.params.Quantity, e.policy.HoldFillWait)
	if err == nil && res.Success && res.FilledSize.Sign() > 0 {
		return res, nil
	}
	if err != nil {
		logger.Warnf("limit open failed: %v", err)
	}
	if !e.client.SupportsMarketOrders() {
		return res, err
	}

	logger.Infof("falling back to market open for %s", e.params.Quantity)
	mres, merr := e.client.PlaceMarketOrder(ctx, e.params.ContractID, e.params.Quantity, e.params.Direction)
	if merr != nil {
		return OpenResult{}, fmt.Errorf("%w: %v", ErrPlacementFailure, merr)
	}
	if !mres.Success {
		return OpenResult{}, fmt.Errorf("%w: %s", ErrPlacementFailure, mres.ErrorMessage)
	}
	if info, filled := e.waitForOrderFill(ctx, mres.OrderID, e.policy.Cooldown); filled {
		return OpenResult{Success: true, FilledSize: info.FilledSize, FilledPrice: info.Price}, nil
	}
	// 市价单长时间无回报，以实际仓位为准
	position, perr := e.fetchPosition(ctx)
	if perr == nil && position.Abs().GreaterThanOrEqual(dustThreshold) {
		return OpenResult{Success: true, FilledSize: position.Abs(), FilledPrice: mres.Price}, nil
	}
	return OpenResult{}, ErrFillTimeout
}

// holdFor 分片睡眠整个持有窗口，期间响应关停请求。
func (e *Engine) holdFor(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		slice := time.Minute
		if remaining < slice {
			slice = remaining
		}
		if !e.sleep(ctx, slice) {
			return
		}
	}
}
