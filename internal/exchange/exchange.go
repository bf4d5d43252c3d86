package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Client 是引擎面向交易所的统一契约。每个交易所实现自己的适配器，
// 引擎只依赖这一组操作。
type Client interface {
	Name() string

	Connect(ctx context.Context) error

	Disconnect() error

	// GetContractAttributes resolves the contract id and tick size for the
	// configured ticker. Called once before trading starts.
	GetContractAttributes(ctx context.Context) (Contract, error)

	PlaceOpenOrder(ctx context.Context, contractID string, quantity decimal.Decimal, side Side) (OrderResult, error)

	PlaceCloseOrder(ctx context.Context, contractID string, quantity, price decimal.Decimal, side Side) (OrderResult, error)

	// PlaceMarketOrder is an optional capability; callers must check
	// SupportsMarketOrders before relying on it.
	PlaceMarketOrder(ctx context.Context, contractID string, quantity decimal.Decimal, side Side) (OrderResult, error)

	SupportsMarketOrders() bool

	CancelOrder(ctx context.Context, orderID string) (CancelResult, error)

	// GetOrderInfo may fail transiently; callers retry locally.
	GetOrderInfo(ctx context.Context, orderID string) (OrderInfo, error)

	GetActiveOrders(ctx context.Context, contractID string) ([]ActiveOrder, error)

	// GetAccountPositions returns the signed position for the configured
	// contract (positive = long, negative = short).
	GetAccountPositions(ctx context.Context) (decimal.Decimal, error)

	FetchBBOPrices(ctx context.Context, contractID string) (BBO, error)

	// SetupOrderUpdateHandler registers the push callback. The handler is
	// invoked from the client's own I/O goroutine; messages are either an
	// OrderUpdate or a generic map[string]any with the same keys.
	SetupOrderUpdateHandler(handler func(message any))
}
