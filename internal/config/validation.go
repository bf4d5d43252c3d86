package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if e.ProxyEnabled && strings.TrimSpace(e.RESTProxyURL) == "" && strings.TrimSpace(e.WSProxyURL) == "" {
		return fmt.Errorf("exchange.proxy_enabled requires rest_proxy_url or ws_proxy_url")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.Mode {
	case "grid", "hold", "flatten":
	default:
		return fmt.Errorf("trading.mode must be one of grid/hold/flatten, got %q", t.Mode)
	}
	if t.Ticker == "" {
		return fmt.Errorf("trading.ticker is required")
	}
	if t.Direction != "buy" && t.Direction != "sell" {
		return fmt.Errorf("trading.direction must be buy or sell, got %q", t.Direction)
	}
	if t.Mode != "flatten" && t.Quantity <= 0 {
		return fmt.Errorf("trading.quantity must be > 0")
	}
	if t.TakeProfit < 0 {
		return fmt.Errorf("trading.take_profit must be >= 0")
	}
	if t.GridStep < 0 {
		return fmt.Errorf("trading.grid_step must be >= 0")
	}
	if t.MaxOrders <= 0 {
		return fmt.Errorf("trading.max_orders must be > 0")
	}
	if t.WaitTime < 0 {
		return fmt.Errorf("trading.wait_time must be >= 0")
	}
	if t.CloseRetryMax < 0 {
		return fmt.Errorf("trading.close_retry_max must be >= 0")
	}
	if t.CloseRetryTimeout <= 0 {
		return fmt.Errorf("trading.close_retry_timeout must be > 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	if n.Lark.Enabled && strings.TrimSpace(n.Lark.Token) == "" {
		return fmt.Errorf("notify.lark requires token when enabled")
	}
	return nil
}
