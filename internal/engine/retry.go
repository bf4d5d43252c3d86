package engine

import (
	"time"

	"perpgrid/internal/config"
)

// RetryPolicy 集中了下单、撤单与平仓升级的全部等待/重试常量，
// 各路径统一消费，不在控制流里散落魔法数字。
type RetryPolicy struct {
	// FillWait 主循环模式下开仓单等待成交推送的时间上限。
	FillWait time.Duration
	// HoldFillWait hold 模式下的等待上限。
	HoldFillWait time.Duration
	// RepriceInterval 改价检查循环的轮询间隔。
	RepriceInterval time.Duration
	// CancelAckWait 撤单确认的等待上限，超时则直接查询已成交数量。
	CancelAckWait time.Duration
	// PollInterval 订单状态轮询间隔（平仓单只能靠轮询）。
	PollInterval time.Duration
	// TransientRetries 单次查询类调用的本地重试次数。
	TransientRetries int
	// TransientDelay 本地重试之间的固定短暂停。
	TransientDelay time.Duration
	// CloseRetryMax 限价平仓的最大尝试次数，用尽后转市价。
	CloseRetryMax int
	// CloseRetryTimeout 每次限价平仓尝试的成交等待上限。
	CloseRetryTimeout time.Duration
	// Cooldown 一轮开/平仓失败后的冷却时间。
	Cooldown time.Duration
	// SettleWait 连接建立、撤单之后等待交易所状态落定的时间。
	SettleWait time.Duration
}

// DefaultRetryPolicy 与原始控制流中的常量保持一致。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		FillWait:          10 * time.Second,
		HoldFillWait:      60 * time.Second,
		RepriceInterval:   5 * time.Second,
		CancelAckWait:     5 * time.Second,
		PollInterval:      5 * time.Second,
		TransientRetries:  3,
		TransientDelay:    time.Second,
		CloseRetryMax:     5,
		CloseRetryTimeout: 60 * time.Second,
		Cooldown:          30 * time.Second,
		SettleWait:        5 * time.Second,
	}
}

// PolicyFromConfig 在默认策略上套用配置里的平仓重试参数。
func PolicyFromConfig(tc config.TradingConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if tc.CloseRetryMax > 0 {
		p.CloseRetryMax = tc.CloseRetryMax
	}
	if tc.CloseRetryTimeout > 0 {
		p.CloseRetryTimeout = time.Duration(tc.CloseRetryTimeout) * time.Second
	}
	return p
}
