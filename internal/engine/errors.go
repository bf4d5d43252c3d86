package engine

import "errors"

var (
	// ErrPlacementFailure 交易所拒绝了下单请求。
	ErrPlacementFailure = errors.New("order placement rejected")

	// ErrFillTimeout 在等待上限内没有观察到终态。
	ErrFillTimeout = errors.New("no terminal order status within wait bound")

	// ErrCancelFailure 撤单被拒绝或始终未获确认。
	ErrCancelFailure = errors.New("order cancellation failed")

	// ErrPositionMismatch 持仓与在挂平仓单之和偏离超出容忍带。
	ErrPositionMismatch = errors.New("position mismatch detected")

	// ErrReconciliationUncertain 平仓后核对残余仓位多次仍不归零。
	ErrReconciliationUncertain = errors.New("post-close position verification inconclusive")

	// ErrSignalConflict 成交信号与直查结果互相矛盾，不允许静默吞掉。
	ErrSignalConflict = errors.New("fill signal and order poll disagree")
)
