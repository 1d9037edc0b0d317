package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvWithDefault(t *testing.T) {
	const key = "TEST_APP_PORT"

	// 环境变量未设置时，应该返回默认值
	t.Setenv(key, "")
	assert.Equal(t, "3601", getEnv(key, "3601"))

	// 环境变量设置后，应优先返回环境变量
	t.Setenv(key, "8080")
	assert.Equal(t, "8080", getEnv(key, "3601"))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Fetch.IntervalMinutes)
	assert.Equal(t, 500, cfg.Fetch.MaxItems)
	assert.Equal(t, 20, cfg.Fetch.PerFeedLimit)
	assert.True(t, cfg.Fetch.UseArticlePage)
	assert.True(t, cfg.Fetch.KeywordCaseSensitive)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
fetch:
  feeds:
    - " https://example.com/rss "
    - ""
  interval_minutes: 5
  use_article_page: false
ai:
  enabled: true
  api_key: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("APP_PORT", "1234")
	t.Setenv("APP_BASIC_USER", "user")
	t.Setenv("APP_BASIC_PASS", "pass")
	t.Setenv("AI_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/rss"}, cfg.Fetch.Feeds)
	assert.Equal(t, 5, cfg.Fetch.IntervalMinutes)
	assert.False(t, cfg.Fetch.UseArticlePage)
	// 未出现在文件中的字段保持默认值
	assert.Equal(t, 500, cfg.Fetch.MaxItems)
	assert.Equal(t, "1234", cfg.Server.Port)
	assert.Equal(t, "user", cfg.Server.BasicAuthUser)
	assert.Equal(t, "pass", cfg.Server.BasicAuthPass)
	assert.Equal(t, "from-env", cfg.AI.APIKey)
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Fetch.IntervalMinutes = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = Default()
	cfg.Database.Driver = "mysql"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)

	cfg = Default()
	cfg.Reports.TimeoutSeconds = 1000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300, cfg.Reports.TimeoutSeconds)
}

func TestClampReportTimeout(t *testing.T) {
	assert.Equal(t, 10, ClampReportTimeout(0))
	assert.Equal(t, 60, ClampReportTimeout(60))
	assert.Equal(t, 300, ClampReportTimeout(301))
}

func TestRedactAndMergeSecrets(t *testing.T) {
	prev := Default()
	prev.AI.APIKey = "sk-secret"
	prev.Telegram.BotToken = "123:abc"
	prev.Feishu.Secret = "fs"
	prev.Server.BasicAuthPass = "pw"

	red := prev.Redacted()
	assert.Equal(t, Redacted, red.AI.APIKey)
	assert.Equal(t, Redacted, red.Telegram.BotToken)
	assert.Equal(t, Redacted, red.Feishu.Secret)
	assert.Empty(t, red.Ntfy.Token, "empty secrets stay empty")
	assert.Empty(t, red.Server.BasicAuthPass)
	// 原值不受影响
	assert.Equal(t, "sk-secret", prev.AI.APIKey)

	incoming := red
	incoming.Telegram.BotToken = "456:new"
	incoming.MergeSecrets(prev)
	assert.Equal(t, "sk-secret", incoming.AI.APIKey)
	assert.Equal(t, "456:new", incoming.Telegram.BotToken)
	assert.Equal(t, "fs", incoming.Feishu.Secret)
	assert.Equal(t, "pw", incoming.Server.BasicAuthPass)

	// sqlite 的 DSN 只是路径，照常展示
	assert.Equal(t, prev.Database.DSN, red.Database.DSN)

	pg := Default()
	pg.Database.Driver = "postgres"
	pg.Database.DSN = "host=db user=app password=s3cret dbname=rss"
	redPG := pg.Redacted()
	assert.Equal(t, Redacted, redPG.Database.DSN)
	assert.NotContains(t, redPG.Database.DSN, "s3cret")
	redPG.MergeSecrets(pg)
	assert.Equal(t, pg.Database.DSN, redPG.Database.DSN)
}

func TestSaveKeepsEnvSecretsOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
ai:
  enabled: true
  api_key: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("AI_API_KEY", "from-env")
	t.Setenv("APP_BASIC_PASS", "env-pass")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.AI.APIKey)

	cfg.Telegram.BotToken = "123:abc"
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "from-file")
	assert.NotContains(t, string(data), "from-env")
	assert.NotContains(t, string(data), "env-pass")
	// 非环境变量来源的密钥正常写回
	assert.Contains(t, string(data), "123:abc")
	// 传入的配置本身不被修改
	assert.Equal(t, "from-env", cfg.AI.APIKey)
}

func TestProviderUpdateSavesAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	p := NewProvider(path, Default())

	var got Config
	p.Subscribe(func(c Config) { got = c })

	next := Default()
	next.Fetch.IntervalMinutes = 42
	require.NoError(t, p.Update(next))

	assert.Equal(t, 42, got.Fetch.IntervalMinutes)
	assert.Equal(t, 42, p.Get().Fetch.IntervalMinutes)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Fetch.IntervalMinutes)

	bad := Default()
	bad.Fetch.PerFeedLimit = 0
	assert.ErrorIs(t, p.Update(bad), ErrInvalid)
	assert.Equal(t, 42, p.Get().Fetch.IntervalMinutes)
}

func TestProviderWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, Save(path, Default()))

	p := NewProvider(path, Default())
	changed := make(chan Config, 4)
	p.Subscribe(func(c Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Watch(ctx))

	next := Default()
	next.Fetch.IntervalMinutes = 7
	require.NoError(t, Save(path, next))

	select {
	case c := <-changed:
		assert.Equal(t, 7, c.Fetch.IntervalMinutes)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}
