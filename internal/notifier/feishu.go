package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Feishu 自定义机器人 webhook
type Feishu struct {
	webhook string
	secret  string
	client  *http.Client
	now     func() time.Time
	log     *slog.Logger
}

func NewFeishu(webhook, secret string, logger *slog.Logger) *Feishu {
	return &Feishu{webhook: webhook, secret: secret, client: defaultClient, now: time.Now, log: logger}
}

func (f *Feishu) Name() string { return "feishu" }

// Send 飞书文本消息不支持 HTML，mode 被忽略
func (f *Feishu) Send(ctx context.Context, text string, _ Mode) bool {
	if f.webhook == "" {
		return false
	}
	payload := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": text},
	}
	if f.secret != "" {
		ts := strconv.FormatInt(f.now().Unix(), 10)
		payload["timestamp"] = ts
		payload["sign"] = feishuSign(ts, f.secret)
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhook, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("feishu send failed", "err", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		f.log.Warn("feishu send rejected", "status", resp.StatusCode)
		return false
	}

	var out struct {
		StatusCode *int   `json:"StatusCode"`
		Code       *int   `json:"code"`
		Msg        string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	if (out.StatusCode != nil && *out.StatusCode == 0) || (out.Code != nil && *out.Code == 0) {
		return true
	}
	f.log.Warn("feishu send rejected", "msg", out.Msg)
	return false
}

// feishuSign 签名串为 "timestamp\nsecret"，作为 HMAC-SHA256 的 key 对空消息签名
func feishuSign(ts, secret string) string {
	h := hmac.New(sha256.New, []byte(ts+"\n"+secret))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
