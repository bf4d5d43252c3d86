package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// eventSignal 是跨 goroutine 的一次性标志：每个订单生命周期开始时 Clear，
// 之后由推送或轮询二者中先观察到终态的一方 Fire。重复 Fire 是空操作，
// 因此两条路径都触发也不会产生重复动作。
type eventSignal struct {
	mu    sync.Mutex
	fired bool
	size  decimal.Decimal
	price decimal.Decimal
	done  chan struct{}
}

func newEventSignal() *eventSignal {
	return &eventSignal{done: make(chan struct{})}
}

// Clear 重置信号，开启新的订单生命周期。
func (s *eventSignal) Clear() {
	s.mu.Lock()
	if s.fired {
		s.done = make(chan struct{})
	}
	s.fired = false
	s.size = decimal.Zero
	s.price = decimal.Zero
	s.mu.Unlock()
}

// Fire 置位并携带成交数量/价格。已置位时不改变任何状态，返回 false。
func (s *eventSignal) Fire(size, price decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		return false
	}
	s.fired = true
	s.size = size
	s.price = price
	close(s.done)
	return true
}

func (s *eventSignal) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Payload 返回置位时携带的数量与价格；未置位时 ok 为 false。
func (s *eventSignal) Payload() (size, price decimal.Decimal, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, s.price, s.fired
}

// Wait 在 timeout 内等待置位；置位、超时或 ctx 取消时返回当前置位状态。
func (s *eventSignal) Wait(ctx context.Context, timeout time.Duration) bool {
	s.mu.Lock()
	if s.fired {
		s.mu.Unlock()
		return true
	}
	done := s.done
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return s.Fired()
	case <-ctx.Done():
		return s.Fired()
	}
}
