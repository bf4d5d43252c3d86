package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultExchangeName      = "binance"
	defaultTradingMode       = "grid"
	defaultTradingDirection  = "buy"
	defaultMaxOrders         = 40
	defaultWaitTime          = 450
	defaultCloseRetryMax     = 5
	defaultCloseRetryTimeout = 60
	defaultHoldMinutes       = 60
	defaultLoopCount         = -1
	disabledPrice            = -1
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Exchange.applyDefaults()
	c.Trading.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a == nil {
		return
	}
	if strings.TrimSpace(a.Env) == "" {
		a.Env = defaultAppEnv
	}
	if strings.TrimSpace(a.LogLevel) == "" {
		a.LogLevel = defaultAppLogLevel
	}
}

func (e *ExchangeConfig) applyDefaults() {
	if e == nil {
		return
	}
	if strings.TrimSpace(e.Name) == "" {
		e.Name = defaultExchangeName
	}
}

func (t *TradingConfig) applyDefaults() {
	if t == nil {
		return
	}
	if strings.TrimSpace(t.Mode) == "" {
		t.Mode = defaultTradingMode
	}
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
	if strings.TrimSpace(t.Direction) == "" {
		t.Direction = defaultTradingDirection
	}
	t.Direction = strings.ToLower(strings.TrimSpace(t.Direction))
	t.Ticker = strings.ToUpper(strings.TrimSpace(t.Ticker))
	if t.MaxOrders == 0 {
		t.MaxOrders = defaultMaxOrders
	}
	if t.WaitTime == 0 {
		t.WaitTime = defaultWaitTime
	}
	if t.CloseRetryMax == 0 {
		t.CloseRetryMax = defaultCloseRetryMax
	}
	if t.CloseRetryTimeout == 0 {
		t.CloseRetryTimeout = defaultCloseRetryTimeout
	}
	if t.HoldMinutes == 0 {
		t.HoldMinutes = defaultHoldMinutes
	}
	if t.LoopCount == 0 {
		t.LoopCount = defaultLoopCount
	}
	// 停止/暂停价默认关闭（-1）
	if t.StopPrice == 0 {
		t.StopPrice = disabledPrice
	}
	if t.PausePrice == 0 {
		t.PausePrice = disabledPrice
	}
}
