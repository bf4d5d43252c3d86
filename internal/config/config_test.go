package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
trading:
  ticker: eth/usdt
  quantity: 0.1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "binance", cfg.Exchange.Name)
	assert.Equal(t, "grid", cfg.Trading.Mode)
	assert.Equal(t, "buy", cfg.Trading.Direction)
	assert.Equal(t, "ETH/USDT", cfg.Trading.Ticker)
	assert.Equal(t, 40, cfg.Trading.MaxOrders)
	assert.Equal(t, 450, cfg.Trading.WaitTime)
	assert.Equal(t, 5, cfg.Trading.CloseRetryMax)
	assert.Equal(t, 60, cfg.Trading.CloseRetryTimeout)
	assert.Equal(t, -1, cfg.Trading.LoopCount)
	// 未配置的停止/暂停价默认关闭
	assert.Equal(t, -1.0, cfg.Trading.StopPrice)
	assert.Equal(t, -1.0, cfg.Trading.PausePrice)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
  log_level: debug
  http_addr: ":9991"
exchange:
  name: binance
  api_key: k
  api_secret: s
  testnet: true
  proxy_enabled: true
  rest_proxy_url: http://127.0.0.1:7890
trading:
  mode: hold
  ticker: BTC/USDT
  direction: sell
  quantity: 0.5
  take_profit: 0.8
  grid_step: 0.3
  max_orders: 20
  wait_time: 300
  stop_price: 120000
  boost: true
  hold_minutes: 30
  loop_count: 3
notify:
  telegram:
    enabled: true
    bot_token: token
    chat_id: "123"
store:
  path: data/test.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hold", cfg.Trading.Mode)
	assert.Equal(t, "sell", cfg.Trading.Direction)
	assert.Equal(t, 0.5, cfg.Trading.Quantity)
	assert.Equal(t, 120000.0, cfg.Trading.StopPrice)
	assert.True(t, cfg.Trading.BoostMode)
	assert.Equal(t, 30, cfg.Trading.HoldMinutes)
	assert.Equal(t, 3, cfg.Trading.LoopCount)
	assert.True(t, cfg.Notify.Telegram.Enabled)
	assert.Equal(t, "data/test.db", cfg.Store.Path)
	assert.True(t, cfg.Exchange.Testnet)
	assert.True(t, cfg.Exchange.ProxyEnabled)
	assert.Equal(t, "http://127.0.0.1:7890", cfg.Exchange.RESTProxyURL)
	assert.Equal(t, "", cfg.Exchange.WSProxyURL)
}

func TestLoadRejectsProxyWithoutURL(t *testing.T) {
	path := writeConfig(t, `
exchange:
  proxy_enabled: true
trading:
  ticker: ETH/USDT
  quantity: 0.1
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "exchange.proxy_enabled")
}

func TestLoadRejectsBadMode(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: scalp
  ticker: ETH/USDT
  quantity: 0.1
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "trading.mode")
}

func TestLoadRejectsBadDirection(t *testing.T) {
	path := writeConfig(t, `
trading:
  ticker: ETH/USDT
  direction: hold
  quantity: 0.1
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "trading.direction")
}

func TestLoadRejectsMissingQuantity(t *testing.T) {
	path := writeConfig(t, `
trading:
  ticker: ETH/USDT
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "trading.quantity")
}

func TestLoadFlattenModeSkipsQuantityCheck(t *testing.T) {
	path := writeConfig(t, `
trading:
  mode: flatten
  ticker: ETH/USDT
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "flatten", cfg.Trading.Mode)
}

func TestLoadRejectsIncompleteTelegram(t *testing.T) {
	path := writeConfig(t, `
trading:
  ticker: ETH/USDT
  quantity: 0.1
notify:
  telegram:
    enabled: true
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "notify.telegram")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
