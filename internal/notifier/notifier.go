package notifier

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/LJTian/RSSDigest/internal/config"
)

// Mode 消息格式
type Mode string

const (
	ModePlain Mode = ""
	ModeHTML  Mode = "HTML"
)

// Notifier 推送渠道；只有后端明确确认成功才返回 true，其余情况一律 false，不抛错
type Notifier interface {
	Name() string
	Send(ctx context.Context, text string, mode Mode) bool
}

// Channel 一个已启用的渠道及其偏好
type Channel struct {
	Notifier
	// 单条文章推送使用的格式
	Mode        Mode
	PushSummary bool
}

var defaultClient = &http.Client{Timeout: 15 * time.Second}

// FromConfig 按配置构建所有启用且凭据齐全的渠道
func FromConfig(cfg config.Config, logger *slog.Logger) []Channel {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Channel
	if t := cfg.Telegram; t.Enabled && t.BotToken != "" && t.ChatID != "" {
		out = append(out, Channel{
			Notifier:    NewTelegram(t.APIBase, t.BotToken, t.ChatID, logger),
			Mode:        ModeHTML,
			PushSummary: t.PushSummary,
		})
	}
	if f := cfg.Feishu; f.Enabled && f.Webhook != "" {
		out = append(out, Channel{
			Notifier:    NewFeishu(f.Webhook, f.Secret, logger),
			Mode:        ModePlain,
			PushSummary: f.PushSummary,
		})
	}
	if n := cfg.Ntfy; n.Enabled && n.Server != "" && n.Topic != "" {
		out = append(out, Channel{
			Notifier:    NewNtfy(n.Server, n.Topic, n.Token, logger),
			Mode:        ModePlain,
			PushSummary: n.PushSummary,
		})
	}
	return out
}

// Broadcast 向所有渠道发送同一条纯文本，返回成功的渠道数
func Broadcast(ctx context.Context, channels []Channel, text string) int {
	ok := 0
	for _, ch := range channels {
		if ch.Send(ctx, text, ModePlain) {
			ok++
		}
	}
	return ok
}
