package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"perpgrid/internal/exchange"
	"perpgrid/internal/logger"
	"perpgrid/internal/notifier"
)

// State 是控制循环状态机的状态。
type State string

const (
	StateInit         State = "INIT"
	StateConnected    State = "CONNECTED"
	StatePaused       State = "PAUSED"
	StatePlacingOpen  State = "PLACING_OPEN"
	StateWaitingClose State = "WAITING_CLOSE"
	StateStopped      State = "STOPPED"
)

// CloseOrder 是在挂平仓单集合中的一项。集合每轮从交易所全量重建，
// 从不增量维护。
type CloseOrder struct {
	ID    string
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Engine 持有单一仓位生命周期的全部运行状态；没有包级可变量。
type Engine struct {
	params   Params
	policy   RetryPolicy
	client   exchange.Client
	notifier notifier.TextNotifier
	bridge   *Bridge

	shutdown       atomic.Bool
	shutdownReason string

	mu              sync.Mutex
	state           State
	activeClose     []CloseOrder
	position        decimal.Decimal
	lastErr         string
	startedAt       time.Time
	lastCloseOrders int
	lastOpenOrder   time.Time
	lastAudit       time.Time
}

// New 组装引擎并把事件桥注册为交易所的推送回调。
func New(params Params, policy RetryPolicy, client exchange.Client, n notifier.TextNotifier, txlog TransactionAppender) *Engine {
	e := &Engine{
		params:   params,
		policy:   policy,
		client:   client,
		notifier: n,
		bridge:   NewBridge(params, txlog),
		state:    StateInit,
	}
	client.SetupOrderUpdateHandler(e.bridge.OnOrderUpdate)
	return e
}

// RequestShutdown 置位关停标志；标志单调，只会 false→true。
func (e *Engine) RequestShutdown(reason string) {
	if e.shutdown.CompareAndSwap(false, true) {
		e.mu.Lock()
		e.shutdownReason = reason
		e.mu.Unlock()
		logger.Infof("shutdown requested: %s", reason)
	}
}

// ShutdownRequested 控制循环每轮顶部以及长等待内部轮询此标志。
func (e *Engine) ShutdownRequested() bool {
	return e.shutdown.Load()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) recordError(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}

// Run 执行主网格循环，直到关停或 ctx 取消。
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.gracefulShutdown(fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	if err := e.prepare(ctx, "grid"); err != nil {
		return err
	}
	defer e.disconnect()

	for !e.ShutdownRequested() && ctx.Err() == nil {
		if err := e.runCycle(ctx); err != nil {
			e.recordError(err)
			logger.Errorf("trading cycle failed: %v", err)
			e.gracefulShutdown(fmt.Sprintf("critical error: %v", err))
			return err
		}
	}
	e.gracefulShutdown("run loop exit")
	return ctx.Err()
}

// runCycle 是一轮控制循环。只有不可恢复的错误才返回非 nil；
// 单次调用级的失败在内部记录并冷却后继续。
func (e *Engine) runCycle(ctx context.Context) error {
	if err := e.refreshActiveCloseOrders(ctx); err != nil {
		logger.Warnf("refreshing active orders failed: %v", err)
		e.recordError(err)
		e.sleep(ctx, e.policy.Cooldown)
		return nil
	}

	mismatch, err := e.auditPosition(ctx)
	if err != nil {
		logger.Warnf("position audit failed: %v", err)
		e.recordError(err)
	}
	if mismatch {
		// 审计已请求关停，循环条件在下一轮退出。
		return nil
	}

	stop, pause, err := e.checkPriceCondition(ctx)
	if err != nil {
		logger.Warnf("price condition check failed: %v", err)
		e.recordError(err)
		e.sleep(ctx, e.policy.Cooldown)
		return nil
	}
	if stop {
		msg := fmt.Sprintf("WARNING: [%s_%s]\nStopped trading due to stop price triggered\n价格已经达到停止交易价格，脚本将停止交易", e.client.Name(), e.params.Ticker)
		e.sendNotification(msg)
		e.RequestShutdown("stop price triggered")
		return nil
	}
	if pause {
		e.setState(StatePaused)
		e.sleep(ctx, 5*time.Second)
		e.setState(StateConnected)
		return nil
	}

	if wait := e.calculateWaitTime(); wait > 0 {
		e.sleep(ctx, wait)
		return nil
	}

	ok, err := e.meetGridStepCondition(ctx)
	if err != nil {
		logger.Warnf("grid step check failed: %v", err)
		e.recordError(err)
		e.sleep(ctx, e.policy.Cooldown)
		return nil
	}
	if !ok {
		e.sleep(ctx, time.Second)
		return nil
	}

	e.setState(StatePlacingOpen)
	res, err := e.placeAndAwaitOpen(ctx, e.params.Quantity, e.policy.FillWait)
	if err != nil {
		logger.Errorf("open order cycle failed: %v", err)
		e.recordError(err)
		e.setState(StateConnected)
		e.sleep(ctx, e.policy.Cooldown)
		return nil
	}
	if res.Success && res.FilledSize.Sign() > 0 {
		if err := e.placeTakeProfit(ctx, res.FilledSize, res.FilledPrice); err != nil {
			// 有裸仓位却挂不上平仓单，继续跑会越错越多。
			return fmt.Errorf("placing close order failed: %w", err)
		}
		if e.params.ResubmitRemainder {
			if err := e.resubmitRemainder(ctx, res.FilledSize); err != nil {
				return err
			}
		}
	}
	e.mu.Lock()
	e.lastCloseOrders++
	e.lastOpenOrder = time.Now()
	e.mu.Unlock()
	e.setState(StateWaitingClose)
	return nil
}

// resubmitRemainder 把部分成交后撤掉的剩余数量重新挂一次。只补一轮，
// 补单再次部分成交时剩余部分留给下一个周期。
func (e *Engine) resubmitRemainder(ctx context.Context, filled decimal.Decimal) error {
	remainder := e.params.Quantity.Sub(filled)
	if remainder.LessThanOrEqual(dustThreshold) {
		return nil
	}

	logger.Infof("resubmitting unfilled remainder %s", remainder)
	res, err := e.placeAndAwaitOpen(ctx, remainder, e.policy.FillWait)
	if err != nil {
		logger.Warnf("remainder resubmission failed: %v", err)
		e.recordError(err)
		return nil
	}
	if res.Success && res.FilledSize.Sign() > 0 {
		if err := e.placeTakeProfit(ctx, res.FilledSize, res.FilledPrice); err != nil {
			return fmt.Errorf("placing close order failed: %w", err)
		}
	}
	return nil
}

// prepare 解析合约属性、打印配置横幅并建立连接。
func (e *Engine) prepare(ctx context.Context, mode string) error {
	if e.params.ContractID == "" || e.params.TickSize.IsZero() {
		contract, err := e.client.GetContractAttributes(ctx)
		if err != nil {
			return fmt.Errorf("resolving contract attributes failed: %w", err)
		}
		e.params.ContractID = contract.ID
		e.params.TickSize = contract.TickSize
		e.bridge.params = e.params
	}
	logger.InfoBlock(e.params.banner(mode, e.client.Name()))

	if err := e.client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to exchange failed: %w", err)
	}
	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()
	// 等连接与推送订阅落定
	e.sleep(ctx, e.policy.SettleWait)
	e.setState(StateConnected)
	return nil
}

func (e *Engine) disconnect() {
	if err := e.client.Disconnect(); err != nil {
		logger.Errorf("disconnecting from exchange failed: %v", err)
	}
}

func (e *Engine) gracefulShutdown(reason string) {
	e.RequestShutdown(reason)
	logger.Infof("starting graceful shutdown: %s", reason)
	e.setState(StateStopped)
	logger.Infof("graceful shutdown completed")
}

// calculateWaitTime 是开仓节奏阶梯：在挂平仓单越多，冷却越长；
// 集合缩小（有平仓成交）则立即允许下一单。
func (e *Engine) calculateWaitTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.activeClose)
	if n < e.lastCloseOrders {
		e.lastCloseOrders = n
		return 0
	}
	e.lastCloseOrders = n
	if n >= e.params.MaxOrders {
		return time.Second
	}

	ratio := float64(n) / float64(e.params.MaxOrders)
	var cool time.Duration
	switch {
	case ratio >= 2.0/3.0:
		cool = 2 * e.params.WaitTime
	case ratio >= 1.0/3.0:
		cool = e.params.WaitTime
	case ratio >= 1.0/6.0:
		cool = e.params.WaitTime / 2
	default:
		cool = e.params.WaitTime / 4
	}

	// 启动时就存在平仓单的话，也要按冷却节奏来。
	if e.lastOpenOrder.IsZero() && n > 0 {
		e.lastOpenOrder = time.Now()
	}
	if time.Since(e.lastOpenOrder) > cool {
		return 0
	}
	return time.Second
}

// meetGridStepCondition 比较最近一张平仓单与按当前盘口新开一单的平仓价，
// 只有价差超过 grid_step 才允许加单。没有在挂平仓单时直接放行。
func (e *Engine) meetGridStepCondition(ctx context.Context) (bool, error) {
	e.mu.Lock()
	orders := make([]CloseOrder, len(e.activeClose))
	copy(orders, e.activeClose)
	e.mu.Unlock()

	if len(orders) == 0 {
		return true, nil
	}

	nextClose := orders[0].Price
	for _, o := range orders[1:] {
		if e.params.Direction == exchange.SideBuy {
			if o.Price.LessThan(nextClose) {
				nextClose = o.Price
			}
		} else {
			if o.Price.GreaterThan(nextClose) {
				nextClose = o.Price
			}
		}
	}

	bbo, err := e.fetchValidBBO(ctx)
	if err != nil {
		return false, err
	}

	hundred := decimal.NewFromInt(100)
	gridGate := decimal.NewFromInt(1).Add(e.params.GridStep.Div(hundred))
	tpFactor := e.params.TakeProfit.Div(hundred)

	if e.params.Direction == exchange.SideBuy {
		newClose := bbo.Ask.Mul(decimal.NewFromInt(1).Add(tpFactor))
		return nextClose.Div(newClose).GreaterThan(gridGate), nil
	}
	newClose := bbo.Bid.Mul(decimal.NewFromInt(1).Sub(tpFactor))
	return newClose.Div(nextClose).GreaterThan(gridGate), nil
}

// checkPriceCondition 评估停止价与暂停价闸门。两者都关闭时不取行情。
func (e *Engine) checkPriceCondition(ctx context.Context) (stop, pause bool, err error) {
	if !e.params.StopEnabled() && !e.params.PauseEnabled() {
		return false, false, nil
	}
	bbo, err := e.fetchValidBBO(ctx)
	if err != nil {
		return false, false, err
	}
	if e.params.StopEnabled() {
		if e.params.Direction == exchange.SideBuy && bbo.Ask.GreaterThanOrEqual(e.params.StopPrice) {
			stop = true
		}
		if e.params.Direction == exchange.SideSell && bbo.Bid.LessThanOrEqual(e.params.StopPrice) {
			stop = true
		}
	}
	if e.params.PauseEnabled() {
		if e.params.Direction == exchange.SideBuy && bbo.Ask.GreaterThanOrEqual(e.params.PausePrice) {
			pause = true
		}
		if e.params.Direction == exchange.SideSell && bbo.Bid.LessThanOrEqual(e.params.PausePrice) {
			pause = true
		}
	}
	return stop, pause, nil
}

// fetchValidBBO 取盘口并校验买卖价可用；单次失败按瞬态本地重试。
func (e *Engine) fetchValidBBO(ctx context.Context) (exchange.BBO, error) {
	var lastErr error
	for i := 0; i < e.policy.TransientRetries; i++ {
		bbo, err := e.client.FetchBBOPrices(ctx, e.params.ContractID)
		if err == nil {
			err = bbo.Validate()
		}
		if err == nil {
			return bbo, nil
		}
		lastErr = err
		if !e.sleep(ctx, e.policy.TransientDelay) {
			break
		}
	}
	return exchange.BBO{}, lastErr
}

func (e *Engine) sendNotification(text string) {
	if e.notifier == nil {
		return
	}
	// 通知失败不得影响引擎
	if err := e.notifier.SendText(text); err != nil {
		logger.Warnf("sending notification failed: %v", err)
	}
}

// sleep 可被 ctx 取消或关停请求打断；返回 false 表示被打断。
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	const slice = time.Second
	deadline := time.Now().Add(d)
	for {
		if e.ShutdownRequested() || ctx.Err() != nil {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		wait := remaining
		if wait > slice {
			wait = slice
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
