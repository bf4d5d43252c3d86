package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"perpgrid/internal/config"
	"perpgrid/internal/engine"
	"perpgrid/internal/exchange/binance"
	"perpgrid/internal/logger"
	"perpgrid/internal/notifier"
	"perpgrid/internal/store"
	"perpgrid/internal/web"
)

func main() {
	cfgPath := os.Getenv("PERPGRID_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，模式=%s）", cfg.App.Env, cfg.Trading.Mode)

	client, err := binance.New(binance.Config{
		APIKey:       cfg.Exchange.APIKey,
		APISecret:    cfg.Exchange.APISecret,
		RESTBaseURL:  cfg.Exchange.RESTBaseURL,
		Testnet:      cfg.Exchange.Testnet,
		ProxyEnabled: cfg.Exchange.ProxyEnabled,
		RESTProxyURL: cfg.Exchange.RESTProxyURL,
		WSProxyURL:   cfg.Exchange.WSProxyURL,
	}, cfg.Trading.Ticker)
	if err != nil {
		log.Fatalf("初始化交易所客户端失败: %v", err)
	}

	var txlog *store.TransactionLog
	if cfg.Store.Path != "" {
		txlog, err = store.NewTransactionLog(cfg.Store.Path)
		if err != nil {
			log.Fatalf("初始化流水库失败: %v", err)
		}
		defer txlog.Close()
	}

	params, err := engine.ParamsFromConfig(cfg.Trading)
	if err != nil {
		log.Fatalf("交易参数无效: %v", err)
	}
	eng := engine.New(params, engine.PolicyFromConfig(cfg.Trading), client, buildNotifier(cfg.Notify), txlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.App.HTTPAddr != "" {
		srv, err := web.NewServer(web.ServerConfig{Addr: cfg.App.HTTPAddr, Engine: eng, Txlog: txlog})
		if err != nil {
			log.Fatalf("初始化状态服务失败: %v", err)
		}
		g.Go(func() error { return srv.Start(gctx) })
		logger.Infof("status server listening on %s", srv.Addr())
	}
	g.Go(func() error {
		switch cfg.Trading.Mode {
		case "hold":
			return eng.RunHold(gctx)
		case "flatten":
			return eng.Flatten(gctx)
		default:
			return eng.Run(gctx)
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("运行失败: %v", err)
	}
}

// buildNotifier 按配置启用通知渠道；一个都没启用时返回 nil，
// 引擎对 nil 通知器直接跳过发送。
func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	var targets []notifier.TextNotifier
	if cfg.Telegram.Enabled {
		targets = append(targets, notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Lark.Enabled {
		targets = append(targets, notifier.NewLark(cfg.Lark.Token))
	}
	if len(targets) == 0 {
		return nil
	}
	return notifier.NewMulti(targets...)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
