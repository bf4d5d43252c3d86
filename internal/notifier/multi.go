package notifier

import (
	"errors"
	"strings"
)

// Multi 把一条消息扇出到多个通知渠道，单个渠道失败不影响其它渠道。
type Multi struct {
	targets []TextNotifier
}

func NewMulti(targets ...TextNotifier) *Multi {
	m := &Multi{}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

// Empty 为真时表示没有任何渠道启用。
func (m *Multi) Empty() bool { return len(m.targets) == 0 }

// SendText 依次发送到所有渠道，返回聚合后的错误。
func (m *Multi) SendText(text string) error {
	var msgs []string
	for _, t := range m.targets {
		if err := t.SendText(text); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}
