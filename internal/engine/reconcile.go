package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpgrid/internal/logger"
)

// auditInterval 仓位审计的最小间隔。
const auditInterval = time.Minute

// refreshActiveCloseOrders 每轮从交易所全量拉取在挂单，只保留平仓方向的
// 那部分重建集合。从不增量维护，推送丢失也能自愈。
func (e *Engine) refreshActiveCloseOrders(ctx context.Context) error {
	orders, err := e.client.GetActiveOrders(ctx, e.params.ContractID)
	if err != nil {
		return fmt.Errorf("fetching active orders failed: %w", err)
	}

	closeSide := e.params.CloseSide()
	fresh := make([]CloseOrder, 0, len(orders))
	for _, o := range orders {
		if o.Side != closeSide {
			continue
		}
		fresh = append(fresh, CloseOrder{ID: o.OrderID, Price: o.Price, Size: o.Size})
	}

	e.mu.Lock()
	e.activeClose = fresh
	e.mu.Unlock()
	return nil
}

// auditPosition 核对实际仓位与在挂平仓单数量之和。偏差超过两倍单笔
// 数量说明簿记已经失真，通知后请求关停，返回 true 表示已触发。
// 受最小间隔限流，失败跳过本轮不报错。
func (e *Engine) auditPosition(ctx context.Context) (bool, error) {
	e.mu.Lock()
	last := e.lastAudit
	e.mu.Unlock()
	if time.Since(last) < auditInterval {
		return false, nil
	}

	position, err := e.fetchPosition(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching position for audit failed: %w", err)
	}

	e.mu.Lock()
	e.lastAudit = time.Now()
	sum := decimal.Zero
	for _, o := range e.activeClose {
		sum = sum.Add(o.Size)
	}
	count := len(e.activeClose)
	e.mu.Unlock()

	diff := position.Abs().Sub(sum).Abs()
	bound := e.params.Quantity.Mul(decimal.NewFromInt(2))
	logger.Infof("status: position=%s, active close orders=%d (sum=%s)", position, count, sum)

	if diff.GreaterThan(bound) {
		msg := fmt.Sprintf("WARNING: [%s_%s]\nPosition mismatch detected: position=%s, closing=%s\n请手动平衡当前仓位和正在关闭的仓位",
			e.client.Name(), e.params.Ticker, position, sum)
		logger.Errorf("position mismatch: |%s - %s| > %s", position, sum, bound)
		e.sendNotification(msg)
		e.recordError(fmt.Errorf("%w: position=%s closing=%s", ErrPositionMismatch, position, sum))
		e.RequestShutdown("position mismatch")
		return true, nil
	}
	return false, nil
}
