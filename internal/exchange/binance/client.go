package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpgrid/internal/exchange"
	"perpgrid/internal/logger"
)

const requestTimeout = 10 * time.Second

// Client 基于 go-binance SDK 实现 exchange.Client（U 本位合约）。
type Client struct {
	cfg    Config
	ticker string
	symbol string // Binance 形式，不带斜杠
	client *futures.Client

	mu        sync.Mutex
	handler   func(message any)
	listenKey string
	cancel    context.CancelFunc
	connected bool
}

func New(cfg Config, ticker string) (*Client, error) {
	final := cfg.withDefaults()
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	if final.Testnet {
		// SDK 的 websocket 端点选择走包级开关，不跟随 BaseURL
		futures.UseTestnet = true
	}
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if final.ProxyEnabled {
		wsProxy := final.WSProxyURL
		if wsProxy == "" {
			wsProxy = final.RESTProxyURL
		}
		if wsProxy != "" {
			futures.SetWsProxyUrl(wsProxy)
		}
	}
	return &Client{
		cfg:    final,
		ticker: ticker,
		symbol: toExchangeSymbol(ticker),
		client: client,
	}, nil
}

func (c *Client) Name() string { return "binance" }

// toExchangeSymbol Binance 要求不带斜杠的大写符号（例如 ETHUSDT）。
func toExchangeSymbol(ticker string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(ticker), "/", ""))
}

// GetContractAttributes 从 exchangeInfo 解析合约符号与最小报价步长。
func (c *Client) GetContractAttributes(ctx context.Context) (exchange.Contract, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	info, err := c.client.NewExchangeInfoService().Do(reqCtx)
	if err != nil {
		return exchange.Contract{}, fmt.Errorf("fetching exchange info failed: %w", err)
	}
	for _, sym := range info.Symbols {
		if sym.Symbol != c.symbol {
			continue
		}
		pf := sym.PriceFilter()
		if pf == nil {
			return exchange.Contract{}, fmt.Errorf("symbol %s has no price filter", c.symbol)
		}
		tick, err := decimal.NewFromString(pf.TickSize)
		if err != nil || tick.Sign() <= 0 {
			return exchange.Contract{}, fmt.Errorf("symbol %s has invalid tick size %q", c.symbol, pf.TickSize)
		}
		return exchange.Contract{ID: sym.Symbol, Ticker: c.ticker, TickSize: tick}, nil
	}
	return exchange.Contract{}, fmt.Errorf("symbol %s not found in exchange info", c.symbol)
}

// PlaceOpenOrder 按当前盘口可成交价挂限价开仓单。
func (c *Client) PlaceOpenOrder(ctx context.Context, contractID string, quantity decimal.Decimal, side exchange.Side) (exchange.OrderResult, error) {
	bbo, err := c.FetchBBOPrices(ctx, contractID)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	if err := bbo.Validate(); err != nil {
		return exchange.OrderResult{}, err
	}
	price := bbo.ExecutablePrice(side)
	return c.placeLimit(ctx, contractID, quantity, price, side, false)
}

// PlaceCloseOrder 按给定价格挂只减仓限价单。
func (c *Client) PlaceCloseOrder(ctx context.Context, contractID string, quantity, price decimal.Decimal, side exchange.Side) (exchange.OrderResult, error) {
	return c.placeLimit(ctx, contractID, quantity, price, side, true)
}

func (c *Client) placeLimit(ctx context.Context, contractID string, quantity, price decimal.Decimal, side exchange.Side, reduceOnly bool) (exchange.OrderResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	svc := c.client.NewCreateOrderService().
		Symbol(c.orderSymbol(contractID)).
		Side(toBinanceSide(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(quantity.String()).
		Price(price.String()).
		NewClientOrderID(newClientOrderID())
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(reqCtx)
	if err != nil {
		return exchange.OrderResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	return exchange.OrderResult{
		Success: true,
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Price:   price,
		Status:  fromBinanceStatus(res.Status),
	}, nil
}

// PlaceMarketOrder 市价单。平仓方向由调用方给定，不设 reduceOnly，
// 因为开仓兜底也会走这条路。
func (c *Client) PlaceMarketOrder(ctx context.Context, contractID string, quantity decimal.Decimal, side exchange.Side) (exchange.OrderResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	res, err := c.client.NewCreateOrderService().
		Symbol(c.orderSymbol(contractID)).
		Side(toBinanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(newClientOrderID()).
		Do(reqCtx)
	if err != nil {
		return exchange.OrderResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	avg, _ := decimal.NewFromString(res.AvgPrice)
	return exchange.OrderResult{
		Success: true,
		OrderID: strconv.FormatInt(res.OrderID, 10),
		Price:   avg,
		Status:  fromBinanceStatus(res.Status),
	}, nil
}

func (c *Client) SupportsMarketOrders() bool { return true }

func (c *Client) CancelOrder(ctx context.Context, orderID string) (exchange.CancelResult, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.CancelResult{}, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	res, err := c.client.NewCancelOrderService().
		Symbol(c.symbol).
		OrderID(id).
		Do(reqCtx)
	if err != nil {
		return exchange.CancelResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	filled, _ := decimal.NewFromString(res.ExecutedQuantity)
	return exchange.CancelResult{Success: true, FilledSize: filled}, nil
}

func (c *Client) GetOrderInfo(ctx context.Context, orderID string) (exchange.OrderInfo, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.OrderInfo{}, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	order, err := c.client.NewGetOrderService().
		Symbol(c.symbol).
		OrderID(id).
		Do(reqCtx)
	if err != nil {
		if strings.Contains(err.Error(), "-2013") {
			return exchange.OrderInfo{}, exchange.ErrOrderNotFound
		}
		return exchange.OrderInfo{}, err
	}
	return convertOrder(order), nil
}

func (c *Client) GetActiveOrders(ctx context.Context, contractID string) ([]exchange.ActiveOrder, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	orders, err := c.client.NewListOpenOrdersService().
		Symbol(c.orderSymbol(contractID)).
		Do(reqCtx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.ActiveOrder, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		info := convertOrder(o)
		out = append(out, exchange.ActiveOrder{
			OrderID: info.OrderID,
			Side:    info.Side,
			Price:   info.Price,
			Size:    info.Size,
			Status:  info.Status,
		})
	}
	return out, nil
}

func (c *Client) GetAccountPositions(ctx context.Context) (decimal.Decimal, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	risks, err := c.client.NewGetPositionRiskService().
		Symbol(c.symbol).
		Do(reqCtx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil {
			continue
		}
		total = total.Add(amt)
	}
	return total, nil
}

func (c *Client) FetchBBOPrices(ctx context.Context, contractID string) (exchange.BBO, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	depth, err := c.client.NewDepthService().
		Symbol(c.orderSymbol(contractID)).
		Limit(5).
		Do(reqCtx)
	if err != nil {
		return exchange.BBO{}, err
	}
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return exchange.BBO{}, exchange.ErrPriceUnavailable
	}
	bid, err := decimal.NewFromString(depth.Bids[0].Price)
	if err != nil {
		return exchange.BBO{}, fmt.Errorf("invalid bid price %q: %w", depth.Bids[0].Price, err)
	}
	ask, err := decimal.NewFromString(depth.Asks[0].Price)
	if err != nil {
		return exchange.BBO{}, fmt.Errorf("invalid ask price %q: %w", depth.Asks[0].Price, err)
	}
	return exchange.BBO{Bid: bid, Ask: ask}, nil
}

func (c *Client) SetupOrderUpdateHandler(handler func(message any)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *Client) orderSymbol(contractID string) string {
	if s := strings.TrimSpace(contractID); s != "" {
		return strings.ToUpper(s)
	}
	return c.symbol
}

func (c *Client) dispatch(message any) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(message)
	}
}

func newClientOrderID() string {
	return "pg-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func toBinanceSide(side exchange.Side) futures.SideType {
	if side == exchange.SideBuy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func fromBinanceSide(side futures.SideType) exchange.Side {
	if side == futures.SideTypeBuy {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

// fromBinanceStatus 把 Binance 订单状态折算到内部状态。EXPIRED 在语义上
// 等同被动取消。
func fromBinanceStatus(status futures.OrderStatusType) exchange.OrderStatus {
	switch status {
	case futures.OrderStatusTypeNew:
		return exchange.StatusOpen
	case futures.OrderStatusTypePartiallyFilled:
		return exchange.StatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return exchange.StatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return exchange.StatusCanceled
	case futures.OrderStatusTypeRejected:
		return exchange.StatusRejected
	default:
		logger.Warnf("[binance] unknown order status %q treated as OPEN", status)
		return exchange.StatusOpen
	}
}

func convertOrder(o *futures.Order) exchange.OrderInfo {
	size, _ := decimal.NewFromString(o.OrigQuantity)
	filled, _ := decimal.NewFromString(o.ExecutedQuantity)
	price, _ := decimal.NewFromString(o.Price)
	if avg, err := decimal.NewFromString(o.AvgPrice); err == nil && avg.Sign() > 0 {
		price = avg
	}
	return exchange.OrderInfo{
		OrderID:    strconv.FormatInt(o.OrderID, 10),
		Side:       fromBinanceSide(o.Side),
		Status:     fromBinanceStatus(o.Status),
		Size:       size,
		FilledSize: filled,
		Price:      price,
	}
}
