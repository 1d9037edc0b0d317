package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid 表示配置取值越界或缺失，由调用方映射为 400
var ErrInvalid = errors.New("invalid config")

// Redacted 替换敏感字段时使用的占位符
const Redacted = "***"

type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Fetch    FetchConfig    `yaml:"fetch" json:"fetch"`
	AI       AIConfig       `yaml:"ai" json:"ai"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
	Feishu   FeishuConfig   `yaml:"feishu" json:"feishu"`
	Ntfy     NtfyConfig     `yaml:"ntfy" json:"ntfy"`
	Reports  ReportsConfig  `yaml:"reports" json:"reports"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port string `yaml:"port" json:"port"`
	// Basic Auth，两者都非空才启用
	BasicAuthUser string `yaml:"basic_auth_user" json:"basic_auth_user"`
	BasicAuthPass string `yaml:"basic_auth_pass" json:"-"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver" json:"driver"` // sqlite / postgres
	DSN       string `yaml:"dsn" json:"dsn"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
}

type FetchConfig struct {
	Feeds                 []string `yaml:"feeds" json:"feeds"`
	IntervalMinutes       int      `yaml:"interval_minutes" json:"interval_minutes"`
	MaxItems              int      `yaml:"max_items" json:"max_items"`
	PerFeedLimit          int      `yaml:"per_feed_limit" json:"per_feed_limit"`
	UseArticlePage        bool     `yaml:"use_article_page" json:"use_article_page"`
	ArticleTimeoutSeconds int      `yaml:"article_timeout_seconds" json:"article_timeout_seconds"`
	FeedTimeoutSeconds    int      `yaml:"feed_timeout_seconds" json:"feed_timeout_seconds"`
	UserAgent             string   `yaml:"user_agent" json:"user_agent"`
	// 可选的 browser-scraper 服务地址，本地抽取失败时交给 headless 浏览器再试一次
	BrowserScraperURL string   `yaml:"browser_scraper_url" json:"browser_scraper_url"`
	FilterKeywords    []string `yaml:"filter_keywords" json:"filter_keywords"`
	// 默认大小写敏感
	KeywordCaseSensitive bool `yaml:"keyword_case_sensitive" json:"keyword_case_sensitive"`
}

type AIConfig struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	BaseURL            string  `yaml:"base_url" json:"base_url"`
	APIKey             string  `yaml:"api_key" json:"api_key"`
	Model              string  `yaml:"model" json:"model"`
	Temperature        float64 `yaml:"temperature" json:"temperature"`
	TimeoutSeconds     int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	SystemPrompt       string  `yaml:"system_prompt" json:"system_prompt"`
	UserPromptTemplate string  `yaml:"user_prompt_template" json:"user_prompt_template"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	BotToken    string `yaml:"bot_token" json:"bot_token"`
	ChatID      string `yaml:"chat_id" json:"chat_id"`
	APIBase     string `yaml:"api_base" json:"api_base"`
	PushSummary bool   `yaml:"push_summary" json:"push_summary"`
}

type FeishuConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Webhook     string `yaml:"webhook" json:"webhook"`
	Secret      string `yaml:"secret" json:"secret"`
	PushSummary bool   `yaml:"push_summary" json:"push_summary"`
}

type NtfyConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Server      string `yaml:"server" json:"server"`
	Topic       string `yaml:"topic" json:"topic"`
	Token       string `yaml:"token" json:"token"`
	PushSummary bool   `yaml:"push_summary" json:"push_summary"`
}

type ReportsConfig struct {
	HourlyEnabled      bool   `yaml:"hourly_enabled" json:"hourly_enabled"`
	DailyEnabled       bool   `yaml:"daily_enabled" json:"daily_enabled"`
	Notify             bool   `yaml:"notify" json:"notify"`
	TimeoutSeconds     int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	SystemPrompt       string `yaml:"system_prompt" json:"system_prompt"`
	UserPromptTemplate string `yaml:"user_prompt_template" json:"user_prompt_template"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

const (
	DefaultItemSystemPrompt = "你是一名专业的中文资讯编辑。请阅读用户提供的文章信息，并且只输出一个 JSON 对象，" +
		"字段为 title, link, pubDate, author, summary_text。summary_text 使用简体中文，控制在 200 字以内。不要输出任何其它内容。"
	DefaultItemUserPrompt = "标题：{title}\n链接：{link}\n发布时间：{pubDate}\n作者：{author}\n\n正文：\n{content}"

	DefaultReportSystemPrompt = "你是一名资讯分析师，负责把一段时间内的文章整理成简洁的中文汇总。" +
		"先概括整体趋势，再按主题列出要点，每个要点一句话。"
	DefaultReportUserPrompt = "请为以下{label}生成汇总。\n时间范围：{timeframe}\n文章数量：{article_count}\n\n" +
		"各来源数量：\n{feed_stats}\n\n文章列表：\n{article_details}"
)

// Default 返回带默认值的配置
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "3601",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/rss_ai.db",
		},
		Fetch: FetchConfig{
			IntervalMinutes:       10,
			MaxItems:              500,
			PerFeedLimit:          20,
			UseArticlePage:        true,
			ArticleTimeoutSeconds: 15,
			FeedTimeoutSeconds:    20,
			UserAgent:             "Mozilla/5.0 (compatible; RSSDigest/1.0)",
			KeywordCaseSensitive:  true,
		},
		AI: AIConfig{
			BaseURL:            "https://api.openai.com/v1",
			Model:              "gpt-4o-mini",
			Temperature:        0.2,
			TimeoutSeconds:     30,
			SystemPrompt:       DefaultItemSystemPrompt,
			UserPromptTemplate: DefaultItemUserPrompt,
		},
		Telegram: TelegramConfig{
			APIBase:     "https://api.telegram.org",
			PushSummary: true,
		},
		Feishu: FeishuConfig{PushSummary: true},
		Ntfy: NtfyConfig{
			Server: "https://ntfy.sh",
		},
		Reports: ReportsConfig{
			Notify:             true,
			TimeoutSeconds:     60,
			SystemPrompt:       DefaultReportSystemPrompt,
			UserPromptTemplate: DefaultReportUserPrompt,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "logs/app.log",
		},
	}
}

// Path 返回配置文件路径，可通过 RSS_AI_CONFIG 覆盖
func Path() string {
	return getEnv("RSS_AI_CONFIG", filepath.Join("config", "config.yaml"))
}

// Load 读取 YAML 配置（文件不存在时使用默认值），再叠加环境变量
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		slog.Info("config file not found, using defaults", "path", path)
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	slog.Info("config loaded", "path", path, "feeds", len(cfg.Fetch.Feeds),
		"interval", cfg.Fetch.IntervalMinutes, "ai", cfg.AI.Enabled)
	return cfg, nil
}

// Save 原子地写回 YAML 文件
func Save(path string, cfg Config) error {
	keepEnvSecrets(path, &cfg)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// envBinding 环境变量到配置字段的映射；secret 字段不会被 Save 写回文件
type envBinding struct {
	key    string
	field  func(*Config) *string
	secret bool
}

var envBindings = []envBinding{
	{key: "APP_PORT", field: func(c *Config) *string { return &c.Server.Port }},
	{key: "APP_BASIC_USER", field: func(c *Config) *string { return &c.Server.BasicAuthUser }},
	{key: "APP_BASIC_PASS", field: func(c *Config) *string { return &c.Server.BasicAuthPass }, secret: true},
	{key: "DB_DRIVER", field: func(c *Config) *string { return &c.Database.Driver }},
	{key: "DB_DSN", field: func(c *Config) *string { return &c.Database.DSN }, secret: true},
	{key: "REDIS_ADDR", field: func(c *Config) *string { return &c.Database.RedisAddr }},
	{key: "AI_API_KEY", field: func(c *Config) *string { return &c.AI.APIKey }, secret: true},
	{key: "TELEGRAM_BOT_TOKEN", field: func(c *Config) *string { return &c.Telegram.BotToken }, secret: true},
	{key: "FEISHU_WEBHOOK", field: func(c *Config) *string { return &c.Feishu.Webhook }, secret: true},
	{key: "LOG_LEVEL", field: func(c *Config) *string { return &c.Logging.Level }},
	{key: "BROWSER_SCRAPER_URL", field: func(c *Config) *string { return &c.Fetch.BrowserScraperURL }},
}

func applyEnv(cfg *Config) {
	for _, b := range envBindings {
		f := b.field(cfg)
		*f = getEnv(b.key, *f)
	}
	if v := getEnv("FETCH_INTERVAL_MINUTES", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.IntervalMinutes = n
		}
	}
}

// keepEnvSecrets 来自环境变量的密钥不落盘，文件中原有的值保持不变
func keepEnvSecrets(path string, cfg *Config) {
	var disk Config
	if data, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(data, &disk)
	}
	for _, b := range envBindings {
		if !b.secret {
			continue
		}
		v := os.Getenv(b.key)
		if v == "" {
			continue
		}
		if f := b.field(cfg); *f == v {
			*f = *b.field(&disk)
		}
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate 校验取值范围；报表超时按 10..300 秒截断而不是报错
func (c *Config) Validate() error {
	f := c.Fetch
	switch {
	case f.IntervalMinutes < 1 || f.IntervalMinutes > 1440:
		return fmt.Errorf("%w: fetch.interval_minutes must be in 1..1440, got %d", ErrInvalid, f.IntervalMinutes)
	case f.PerFeedLimit < 1 || f.PerFeedLimit > 1000:
		return fmt.Errorf("%w: fetch.per_feed_limit must be in 1..1000, got %d", ErrInvalid, f.PerFeedLimit)
	case f.ArticleTimeoutSeconds < 5 || f.ArticleTimeoutSeconds > 60:
		return fmt.Errorf("%w: fetch.article_timeout_seconds must be in 5..60, got %d", ErrInvalid, f.ArticleTimeoutSeconds)
	case f.MaxItems < 0:
		return fmt.Errorf("%w: fetch.max_items must be >= 0", ErrInvalid)
	case c.AI.Temperature < 0 || c.AI.Temperature > 2:
		return fmt.Errorf("%w: ai.temperature must be in 0..2", ErrInvalid)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: database.driver %q is not supported", ErrInvalid, c.Database.Driver)
	}
	c.Reports.TimeoutSeconds = ClampReportTimeout(c.Reports.TimeoutSeconds)

	feeds := make([]string, 0, len(f.Feeds))
	for _, u := range f.Feeds {
		if u = strings.TrimSpace(u); u != "" {
			feeds = append(feeds, u)
		}
	}
	c.Fetch.Feeds = feeds
	return nil
}

// ClampReportTimeout 将报表 AI 调用超时限制在 10..300 秒
func ClampReportTimeout(sec int) int {
	if sec < 10 {
		return 10
	}
	if sec > 300 {
		return 300
	}
	return sec
}

// Redacted 返回隐藏了密钥的副本，用于对外展示
func (c Config) Redacted() Config {
	out := c
	out.Fetch.Feeds = append([]string(nil), c.Fetch.Feeds...)
	out.Fetch.FilterKeywords = append([]string(nil), c.Fetch.FilterKeywords...)
	out.AI.APIKey = redact(c.AI.APIKey)
	out.Telegram.BotToken = redact(c.Telegram.BotToken)
	out.Feishu.Secret = redact(c.Feishu.Secret)
	out.Ntfy.Token = redact(c.Ntfy.Token)
	// postgres 的 DSN 带密码；sqlite 只是文件路径
	if c.Database.Driver == "postgres" {
		out.Database.DSN = redact(c.Database.DSN)
	}
	out.Server.BasicAuthPass = ""
	return out
}

// MergeSecrets 对值为 *** 的字段沿用 prev 中的原值
func (c *Config) MergeSecrets(prev Config) {
	if c.AI.APIKey == Redacted {
		c.AI.APIKey = prev.AI.APIKey
	}
	if c.Telegram.BotToken == Redacted {
		c.Telegram.BotToken = prev.Telegram.BotToken
	}
	if c.Feishu.Secret == Redacted {
		c.Feishu.Secret = prev.Feishu.Secret
	}
	if c.Ntfy.Token == Redacted {
		c.Ntfy.Token = prev.Ntfy.Token
	}
	if c.Database.DSN == Redacted {
		c.Database.DSN = prev.Database.DSN
	}
	// 密码从不下发，更新时总是沿用
	c.Server.BasicAuthPass = prev.Server.BasicAuthPass
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return Redacted
}
