package collector

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

	"github.com/LJTian/RSSDigest/internal/processor"
)

// BrowserRequest / BrowserResponse 是 browser-scraper 服务 POST /extract 的协议
type BrowserRequest struct {
	URL      string `json:"url"`
	MaxChars int    `json:"maxChars"`
}

type BrowserResponse struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// BrowserMaxChars 请求 browser-scraper 返回的最大字符数
const BrowserMaxChars = 4000

// BrowserExtractor 调用独立部署的 headless 浏览器服务抽取正文，用于需要 JS 渲染的页面
type BrowserExtractor struct {
	Endpoint string // 例如 http://browser-scraper:4000
	Client   *http.Client
	Logger   *slog.Logger
}

func NewBrowserExtractor(endpoint string, timeout time.Duration, logger *slog.Logger) *BrowserExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	// 浏览器渲染本身较慢，在页面超时之上再留出余量
	return &BrowserExtractor{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   &http.Client{Timeout: timeout + 10*time.Second},
		Logger:   logger,
	}
}

func (b *BrowserExtractor) Extract(ctx context.Context, pageURL string) (string, bool) {
	if strings.TrimSpace(pageURL) == "" {
		return "", false
	}
	text, err := b.extract(ctx, pageURL)
	if err != nil {
		b.Logger.Debug("browser extract failed", "link", pageURL, "err", err)
		return "", false
	}
	text = processor.CollapseSpace(text)
	if utf8.RuneCountInString(text) < MinTextRunes {
		return "", false
	}
	return text, true
}

func (b *BrowserExtractor) extract(ctx context.Context, pageURL string) (string, error) {
	body, err := json.Marshal(BrowserRequest{URL: pageURL, MaxChars: BrowserMaxChars})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint+"/extract", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("browser-scraper status %d", resp.StatusCode)
	}

	var out BrowserResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("browser-scraper: %s", out.Error)
	}
	return out.Text, nil
}

// Chain 依次尝试多个抽取器，返回第一个成功的结果
type Chain []ContentEnricher

func (c Chain) Extract(ctx context.Context, pageURL string) (string, bool) {
	for _, e := range c {
		if ctx.Err() != nil {
			return "", false
		}
		if text, ok := e.Extract(ctx, pageURL); ok {
			return text, true
		}
	}
	return "", false
}
