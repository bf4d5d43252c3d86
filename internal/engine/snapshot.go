package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot 是引擎运行状态的只读快照，供 HTTP 状态接口序列化。
type Snapshot struct {
	State             State           `json:"state"`
	Ticker            string          `json:"ticker"`
	ContractID        string          `json:"contract_id"`
	Direction         string          `json:"direction"`
	CloseSide         string          `json:"close_side"`
	Position          decimal.Decimal `json:"position"`
	ActiveCloseOrders []CloseOrder    `json:"active_close_orders"`
	ActiveCloseSum    decimal.Decimal `json:"active_close_sum"`
	ShutdownRequested bool            `json:"shutdown_requested"`
	ShutdownReason    string          `json:"shutdown_reason,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	UptimeSeconds     int64           `json:"uptime_seconds"`
}

// Snapshot 返回当前状态的副本，不持有引擎内部引用。
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := make([]CloseOrder, len(e.activeClose))
	copy(orders, e.activeClose)
	sum := decimal.Zero
	for _, o := range orders {
		sum = sum.Add(o.Size)
	}

	var uptime int64
	if !e.startedAt.IsZero() {
		uptime = int64(time.Since(e.startedAt).Seconds())
	}
	return Snapshot{
		State:             e.state,
		Ticker:            e.params.Ticker,
		ContractID:        e.params.ContractID,
		Direction:         string(e.params.Direction),
		CloseSide:         string(e.params.CloseSide()),
		Position:          e.position,
		ActiveCloseOrders: orders,
		ActiveCloseSum:    sum,
		ShutdownRequested: e.shutdown.Load(),
		ShutdownReason:    e.shutdownReason,
		LastError:         e.lastErr,
		StartedAt:         e.startedAt,
		UptimeSeconds:     uptime,
	}
}
