package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/processor"
	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNotConfigured 缺少 API Key / 模型
	ErrNotConfigured = errors.New("ai backend not configured")
	// ErrMalformedReply 模型回复不符合约定的 JSON 结构
	ErrMalformedReply = errors.New("malformed ai reply")
)

// Usage 后端返回的 token 用量，未返回时为零值
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Summarizer AI 摘要能力，pipeline 与报表共用
type Summarizer interface {
	Summarize(ctx context.Context, it processor.Item) (processor.Summary, Usage, error)
	Digest(ctx context.Context, systemPrompt, userPrompt string, timeout time.Duration) (string, Usage, error)
}

// Client 走 OpenAI 兼容的 chat/completions 接口
type Client struct {
	api          *openai.Client
	apiKey       string
	model        string
	temperature  float32
	timeout      time.Duration
	systemPrompt string
	userTemplate string
	log          *slog.Logger
}

// New 按配置构建客户端；未启用或缺少 API Key / 模型时返回 nil，调用方据此跳过 AI
func New(cfg config.AIConfig, logger *slog.Logger) *Client {
	if !cfg.Enabled || cfg.APIKey == "" || cfg.Model == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: 5 * time.Minute}

	sys := cfg.SystemPrompt
	if sys == "" {
		sys = config.DefaultItemSystemPrompt
	}
	tpl := cfg.UserPromptTemplate
	if tpl == "" {
		tpl = config.DefaultItemUserPrompt
	}

	return &Client{
		api:          openai.NewClientWithConfig(oc),
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		temperature:  float32(cfg.Temperature),
		timeout:      timeout,
		systemPrompt: sys,
		userTemplate: tpl,
		log:          logger,
	}
}

// FromConfig 与 New 相同，但未启用时返回值为接口零值 nil
func FromConfig(cfg config.AIConfig, logger *slog.Logger) Summarizer {
	if c := New(cfg, logger); c != nil {
		return c
	}
	return nil
}

// Summarize 生成单条摘要；任何失败都以 error 返回，由调用方回落到兜底摘要
func (c *Client) Summarize(ctx context.Context, it processor.Item) (processor.Summary, Usage, error) {
	prompt := Render(c.userTemplate, map[string]string{
		"title":   it.Title,
		"link":    it.Link,
		"pubDate": it.PubDate,
		"author":  it.Author,
		"content": it.Content,
	})

	reply, usage, err := c.chat(ctx, c.systemPrompt, prompt, c.timeout)
	if err != nil {
		return processor.Summary{}, usage, err
	}

	res := ParseReply(reply, it)
	if !res.OK {
		return processor.Summary{}, usage, fmt.Errorf("%w: %s", ErrMalformedReply, res.Reason)
	}
	return res.Summary, usage, nil
}

// Digest 报表用的自由文本生成
func (c *Client) Digest(ctx context.Context, systemPrompt, userPrompt string, timeout time.Duration) (string, Usage, error) {
	reply, usage, err := c.chat(ctx, systemPrompt, userPrompt, timeout)
	if err != nil {
		return "", usage, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", usage, fmt.Errorf("%w: empty digest", ErrMalformedReply)
	}
	return reply, usage, nil
}

func (c *Client) chat(ctx context.Context, system, user string, timeout time.Duration) (string, Usage, error) {
	if c.apiKey == "" || c.model == "" {
		return "", Usage{}, ErrNotConfigured
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		c.log.Warn("ai request failed", "model", c.model, "took", time.Since(start), "err", err)
		return "", Usage{}, fmt.Errorf("chat completion: %w", err)
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if len(resp.Choices) == 0 {
		return "", usage, fmt.Errorf("%w: no choices", ErrMalformedReply)
	}
	c.log.Debug("ai request done", "model", c.model, "took", time.Since(start), "tokens", usage.TotalTokens)
	return resp.Choices[0].Message.Content, usage, nil
}

// Render 用 {name} 占位符填充提示词模板，未知占位符原样保留
func Render(tpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
