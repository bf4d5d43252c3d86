package notifier

// TextNotifier 发送纯文本告警。引擎只在停止价触发、仓位失衡等关键
// 事件上调用，失败由调用方记日志，不得影响交易流程。
type TextNotifier interface {
	SendText(text string) error
}
