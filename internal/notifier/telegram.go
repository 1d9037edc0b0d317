package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// TelegramMaxRunes Telegram 单条消息上限 4096，留出余量
const TelegramMaxRunes = 3900

type Telegram struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
	// Telegram 对同一会话大约每秒 1 条的限制
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewTelegram(apiBase, token, chatID string, logger *slog.Logger) *Telegram {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &Telegram{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		chatID:  chatID,
		client:  defaultClient,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		log:     logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, text string, mode Mode) bool {
	if t.token == "" || t.chatID == "" {
		return false
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return false
	}

	// 超长的 HTML 截断后可能切坏标签，改按纯文本发送
	if mode != ModePlain && utf8.RuneCountInString(text) > TelegramMaxRunes {
		mode = ModePlain
	}
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     truncate(text, TelegramMaxRunes),
		"disable_web_page_preview": true,
	}
	if mode != ModePlain {
		payload["parse_mode"] = string(mode)
	}
	body, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warn("telegram send failed", "err", err)
		return false
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.OK {
		t.log.Warn("telegram send rejected", "status", resp.StatusCode, "desc", out.Description)
		return false
	}
	return true
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}
