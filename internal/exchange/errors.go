package exchange

import "errors"

var (
	// ErrPriceUnavailable 表示盘口无效（零价或买卖价倒挂），不得用于定价。
	ErrPriceUnavailable = errors.New("no bid/ask data available")

	// ErrOrderNotFound 表示交易所侧查不到该订单。
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotConnected 表示尚未建立连接就发起了请求。
	ErrNotConnected = errors.New("exchange client not connected")

	// ErrMarketOrdersUnsupported 表示该交易所不提供市价单通道。
	ErrMarketOrdersUnsupported = errors.New("market orders not supported")
)
