package mapview

import (
	"log/slog"

	"mapview/internal/logger"
)

// Notifier：面向用户的提示通道（宿主界面的消息框）
type Notifier interface {
	Warn(msg string)
	Error(msg string)
}

// LogNotifier：无界面宿主下写入日志
type LogNotifier struct {
	L *slog.Logger
}

func (n LogNotifier) log() *slog.Logger {
	if n.L != nil {
		return n.L
	}
	return logger.For("notify")
}

func (n LogNotifier) Warn(msg string)  { n.log().Warn("user_notice", "msg", msg) }
func (n LogNotifier) Error(msg string) { n.log().Error("user_notice", "msg", msg) }
