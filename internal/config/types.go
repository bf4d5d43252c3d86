package config

// Config 是 perpgrid 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Trading  TradingConfig  `toml:"trading"`
	Notify   NotifyConfig   `toml:"notify"`
	Store    StoreConfig    `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

type ExchangeConfig struct {
	Name        string `toml:"name"`
	APIKey      string `toml:"api_key"`
	APISecret   string `toml:"api_secret"`
	RESTBaseURL string `toml:"rest_base_url"`
	Testnet     bool   `toml:"testnet"`

	ProxyEnabled bool   `toml:"proxy_enabled"`
	RESTProxyURL string `toml:"rest_proxy_url"`
	WSProxyURL   string `toml:"ws_proxy_url"` // 留空则复用 rest_proxy_url
}

// TradingConfig 每次运行期间不可变；引擎启动时转换成 decimal 参数。
type TradingConfig struct {
	Mode              string  `toml:"mode"` // grid | hold | flatten
	Ticker            string  `toml:"ticker"`
	ContractID        string  `toml:"contract_id"` // 留空则启动时解析
	Direction         string  `toml:"direction"`
	Quantity          float64 `toml:"quantity"`
	TakeProfit        float64 `toml:"take_profit"` // 百分比
	GridStep          float64 `toml:"grid_step"`   // 百分比
	MaxOrders         int     `toml:"max_orders"`
	WaitTime          int     `toml:"wait_time"` // 秒
	StopPrice         float64 `toml:"stop_price"`
	PausePrice        float64 `toml:"pause_price"`
	BoostMode         bool    `toml:"boost"`
	CloseRetryMax     int     `toml:"close_retry_max"`
	CloseRetryTimeout int     `toml:"close_retry_timeout"` // 秒
	ResubmitRemainder bool    `toml:"resubmit_remainder"`
	HoldMinutes       int     `toml:"hold_minutes"`
	LoopCount         int     `toml:"loop_count"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Lark     LarkConfig     `toml:"lark"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type LarkConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
}

type StoreConfig struct {
	Path string `toml:"path"` // sqlite 文件路径，留空则不落库
}
