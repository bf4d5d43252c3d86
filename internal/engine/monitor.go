package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpgrid/internal/exchange"
	"perpgrid/internal/logger"
)

// OpenResult 是一次开仓生命周期的结果。
type OpenResult struct {
	Success     bool
	FilledSize  decimal.Decimal
	FilledPrice decimal.Decimal
}

// placeAndAwaitOpen 按 size 下开仓单并判定其成交结果：先让推送信号与
// 直查轮询赛跑 fillWait，超时后进入改价/撤单循环。返回的 FilledSize
// 可能小于 size（部分成交后撤单）。
func (e *Engine) placeAndAwaitOpen(ctx context.Context, size decimal.Decimal, fillWait time.Duration) (OpenResult, error) {
	e.bridge.BeginLifecycle()

	res, err := e.client.PlaceOpenOrder(ctx, e.params.ContractID, size, e.params.Direction)
	if err != nil {
		return OpenResult{}, fmt.Errorf("%w: %v", ErrPlacementFailure, err)
	}
	if !res.Success {
		return OpenResult{}, fmt.Errorf("%w: %s", ErrPlacementFailure, res.ErrorMessage)
	}
	e.bridge.Track(res.OrderID, res.Price, size)

	// 下单回执本身就可能报告已成交，与推送路径幂等汇合。
	if res.Status == exchange.StatusFilled {
		e.bridge.fill.Fire(size, res.Price)
	}

	if !e.bridge.fill.Fired() {
		e.bridge.fill.Wait(ctx, fillWait)
	}
	if e.bridge.fill.Fired() {
		return e.confirmOpenFill(ctx, res, size)
	}

	filled, err := e.repriceCancelLoop(ctx, res.OrderID, res.Price, size)
	if err != nil {
		return OpenResult{}, err
	}
	if e.bridge.fill.Fired() {
		return e.confirmOpenFill(ctx, res, size)
	}
	return OpenResult{Success: filled.Sign() > 0, FilledSize: filled, FilledPrice: res.Price}, nil
}

// confirmOpenFill 成交信号已置位时再做一次直查核对：
// 轮询若报告 CANCELED/REJECTED，矛盾必须上抛而不是悄悄消化。
func (e *Engine) confirmOpenFill(ctx context.Context, res exchange.OrderResult, ordered decimal.Decimal) (OpenResult, error) {
	size, price, _ := e.bridge.fill.Payload()
	if size.Sign() == 0 {
		size = ordered
	}
	if price.Sign() == 0 {
		price = res.Price
	}

	info, err := e.pollOrderInfo(ctx, res.OrderID)
	if err != nil {
		// 查询瞬态失败不推翻成交信号
		logger.Warnf("[OPEN] [%s] fill confirmation poll failed: %v", res.OrderID, err)
		return OpenResult{Success: true, FilledSize: size, FilledPrice: price}, nil
	}
	switch info.Status {
	case exchange.StatusCanceled, exchange.StatusRejected:
		return OpenResult{}, fmt.Errorf("%w: order %s polled as %s after fill signal", ErrSignalConflict, res.OrderID, info.Status)
	case exchange.StatusFilled, exchange.StatusPartiallyFilled:
		if info.FilledSize.Sign() > 0 {
			size = info.FilledSize
		}
		if info.Price.Sign() > 0 {
			price = info.Price
		}
	}
	return OpenResult{Success: true, FilledSize: size, FilledPrice: price}, nil
}

// repriceCancelLoop 在订单仍 OPEN 且价格仍对我们有利时等待；一旦价格
// 走远或状态变化，撤单并确定已成交的部分。
func (e *Engine) repriceCancelLoop(ctx context.Context, orderID string, orderPrice, ordered decimal.Decimal) (decimal.Decimal, error) {
	status := exchange.StatusOpen
	if info, err := e.pollOrderInfo(ctx, orderID); err == nil {
		status = info.Status
		e.bridge.RecordPollResult(info)
	}

	for status == exchange.StatusOpen && !e.ShutdownRequested() && ctx.Err() == nil {
		bbo, err := e.fetchValidBBO(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		if !shouldWaitForFill(e.params.Direction, bbo.ExecutablePrice(e.params.Direction), orderPrice) {
			break
		}
		logger.Infof("[OPEN] [%s] waiting for order to be filled @ %s", orderID, orderPrice)
		if !e.sleep(ctx, e.policy.RepriceInterval) {
			break
		}
		if info, err := e.pollOrderInfo(ctx, orderID); err == nil {
			status = info.Status
			e.bridge.RecordPollResult(info)
		}
	}

	if e.bridge.fill.Fired() || status == exchange.StatusFilled {
		size, _, ok := e.bridge.fill.Payload()
		if !ok || size.Sign() == 0 {
			size = ordered
		}
		return size, nil
	}

	logger.Infof("[OPEN] [%s] cancelling order and placing a new order", orderID)
	cres, err := e.client.CancelOrder(ctx, orderID)
	if err != nil {
		logger.Errorf("[OPEN] error cancelling order %s: %v", orderID, err)
		cres = exchange.CancelResult{}
	} else if !cres.Success {
		logger.Warnf("[OPEN] failed to cancel order %s: %s", orderID, cres.ErrorMessage)
	}

	if !e.bridge.cancel.Wait(ctx, e.policy.CancelAckWait) {
		// 撤单确认超时：直接查询已成交数量
		if info, perr := e.pollOrderInfo(ctx, orderID); perr == nil {
			return info.FilledSize, nil
		}
		if cres.Success {
			return cres.FilledSize, nil
		}
		return decimal.Zero, fmt.Errorf("%w: order %s unconfirmed", ErrCancelFailure, orderID)
	}

	size, _, _ := e.bridge.cancel.Payload()
	if e.bridge.fill.Fired() {
		// 撤单前瞬间全部成交，成交信号优先
		if fsize, _, ok := e.bridge.fill.Payload(); ok && fsize.GreaterThan(size) {
			size = fsize
		}
	}
	return size, nil
}

// shouldWaitForFill：买单在新价不高于挂单价时继续等，卖单相反。
func shouldWaitForFill(direction exchange.Side, newPrice, orderPrice decimal.Decimal) bool {
	if direction == exchange.SideBuy {
		return newPrice.LessThanOrEqual(orderPrice)
	}
	return newPrice.GreaterThanOrEqual(orderPrice)
}

// pollOrderInfo 是带瞬态重试的订单直查。
func (e *Engine) pollOrderInfo(ctx context.Context, orderID string) (exchange.OrderInfo, error) {
	var lastErr error
	for i := 0; i < e.policy.TransientRetries; i++ {
		info, err := e.client.GetOrderInfo(ctx, orderID)
		if err == nil {
			return info, nil
		}
		lastErr = err
		if !e.sleep(ctx, e.policy.TransientDelay) {
			break
		}
	}
	return exchange.OrderInfo{}, lastErr
}

// waitForOrderFill 轮询等待一张订单（平仓单走不到推送信号）到达终态。
// 返回的 bool 表示是否成交；CANCELED/REJECTED 是否定结果而非错误。
func (e *Engine) waitForOrderFill(ctx context.Context, orderID string, timeout time.Duration) (exchange.OrderInfo, bool) {
	deadline := time.Now().Add(timeout)
	var lastWarn time.Time
	for time.Now().Before(deadline) && !e.ShutdownRequested() && ctx.Err() == nil {
		info, err := e.client.GetOrderInfo(ctx, orderID)
		if err != nil {
			if time.Since(lastWarn) > 30*time.Second {
				logger.Warnf("error checking order %s status: %v", orderID, err)
				lastWarn = time.Now()
			}
		} else {
			switch info.Status {
			case exchange.StatusFilled:
				logger.Infof("order %s filled: %s @ %s", orderID, info.FilledSize, info.Price)
				return info, true
			case exchange.StatusCanceled:
				logger.Warnf("order %s was canceled", orderID)
				return info, false
			case exchange.StatusRejected:
				logger.Errorf("order %s was rejected", orderID)
				return info, false
			}
		}
		if !e.sleep(ctx, e.policy.PollInterval) {
			break
		}
	}
	logger.Warnf("order %s not filled within %s", orderID, timeout)
	return exchange.OrderInfo{}, false
}
