package binance

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"perpgrid/internal/exchange"
	"perpgrid/internal/logger"
)

const keepaliveInterval = 25 * time.Minute

// Connect 申请 listenKey 并启动用户数据流循环，订单推送经 dispatch
// 送给注册的回调。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	listenKey, err := c.client.NewStartUserStreamService().Do(reqCtx)
	cancel()
	if err != nil {
		return err
	}

	streamCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	c.listenKey = listenKey
	c.cancel = stop
	c.connected = true
	c.mu.Unlock()

	go c.runUserDataLoop(streamCtx)
	go c.runKeepaliveLoop(streamCtx)
	logger.Infof("[binance] user data stream started for %s", c.symbol)
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	stop := c.cancel
	listenKey := c.listenKey
	c.cancel = nil
	c.listenKey = ""
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if listenKey != "" {
		reqCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := c.client.NewCloseUserStreamService().ListenKey(listenKey).Do(reqCtx); err != nil {
			logger.Warnf("[binance] closing user stream failed: %v", err)
		}
	}
	return nil
}

func (c *Client) currentListenKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenKey
}

// runUserDataLoop 断线后指数退避重连；listenKey 失效时重新申请。
func (c *Client) runUserDataLoop(ctx context.Context) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		listenKey := c.currentListenKey()
		if listenKey == "" {
			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			fresh, err := c.client.NewStartUserStreamService().Do(reqCtx)
			cancel()
			if err != nil {
				logger.Warnf("[binance] renewing listen key failed: %v", err)
				if !sleepWithContext(ctx, delay) {
					return
				}
				delay = nextDelay(delay)
				continue
			}
			c.mu.Lock()
			c.listenKey = fresh
			c.mu.Unlock()
			listenKey = fresh
		}

		var errMu sync.Mutex
		var lastErr error
		handler := func(event *futures.WsUserDataEvent) {
			c.handleUserDataEvent(event)
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := futures.WsUserDataServe(listenKey, handler, errHandler)
		if err != nil {
			logger.Warnf("[binance] user data subscribe failed: %v", err)
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		logger.Warnf("[binance] user data stream disconnected: %v", errCopy)
		// listenKey 可能已经过期，下一轮重新申请
		c.mu.Lock()
		c.listenKey = ""
		c.mu.Unlock()
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (c *Client) runKeepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			listenKey := c.currentListenKey()
			if listenKey == "" {
				continue
			}
			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			err := c.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(reqCtx)
			cancel()
			if err != nil {
				logger.Warnf("[binance] listen key keepalive failed: %v", err)
			}
		}
	}
}

// handleUserDataEvent 只关心本合约的订单回报，转成通用 map 负载投递。
func (c *Client) handleUserDataEvent(event *futures.WsUserDataEvent) {
	if event == nil || event.Event != futures.UserDataEventTypeOrderTradeUpdate {
		return
	}
	upd := event.OrderTradeUpdate
	if upd.Symbol != c.symbol {
		return
	}
	message := map[string]any{
		"order_id":    strconv.FormatInt(upd.ID, 10),
		"contract_id": upd.Symbol,
		"side":        string(fromBinanceSide(upd.Side)),
		"status":      string(fromBinanceStatus(upd.Status)),
		"size":        upd.OriginalQty,
		"filled_size": upd.AccumulatedFilledQty,
		"price":       pushPrice(upd),
	}
	c.dispatch(message)
}

// pushPrice 优先用成交均价，没有成交时退回委托价。
func pushPrice(upd futures.WsOrderTradeUpdate) string {
	if avg, err := decimal.NewFromString(upd.AveragePrice); err == nil && avg.Sign() > 0 {
		return upd.AveragePrice
	}
	return upd.OriginalPrice
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

var _ exchange.Client = (*Client)(nil)
