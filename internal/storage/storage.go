package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound 按 id 查询不到记录
var ErrNotFound = errors.New("record not found")

// Article 一条已入库的 RSS 条目；(feed_url, item_uid) 全局唯一，入库后不再修改
type Article struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	FeedURL         string                      `gorm:"size:1024;not null;uniqueIndex:idx_article_identity,priority:1" json:"feedUrl"`
	ItemUID         string                      `gorm:"size:512;not null;uniqueIndex:idx_article_identity,priority:2" json:"itemUid"`
	Title           string                      `gorm:"size:1024" json:"title"`
	Link            string                      `gorm:"size:2048" json:"link"`
	PubDate         string                      `gorm:"size:128" json:"pubDate"`
	Author          string                      `gorm:"size:256" json:"author"`
	SummaryText     string                      `gorm:"type:text" json:"summaryText"`
	MatchedKeywords datatypes.JSONSlice[string] `json:"matchedKeywords"`
	// 入库时间由 Store 赋值，统一存 UTC
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// Report 某个时间窗口 [start, end) 的汇总；(kind, start, end) 唯一
type Report struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Kind         string    `gorm:"size:16;not null;uniqueIndex:idx_report_window,priority:1" json:"kind"`
	WindowStart  time.Time `gorm:"not null;uniqueIndex:idx_report_window,priority:2" json:"windowStart"`
	WindowEnd    time.Time `gorm:"not null;uniqueIndex:idx_report_window,priority:3" json:"windowEnd"`
	Title        string    `gorm:"size:256" json:"title"`
	Digest       string    `gorm:"type:text" json:"digest"`
	ArticleCount int       `json:"articleCount"`
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`
}

// Options 打开存储所需参数
type Options struct {
	Driver    string // sqlite / postgres
	DSN       string
	RedisAddr string // 为空时不启用缓存
	Logger    *slog.Logger
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client

	log *slog.Logger
	// 写操作串行化：sqlite 同一时刻只能有一个写者
	writeMu sync.Mutex
	now     func() time.Time
}

const cacheTTL = 30 * time.Second

func NewStore(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialector, err := openDialector(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if opts.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Article{}, &Report{}); err != nil {
		return nil, err
	}

	s := &Store{DB: db, log: logger, now: time.Now}

	if opts.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed, list cache may miss", "addr", opts.RedisAddr, "err", err)
		}
		s.Redis = rdb
	}

	return s, nil
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite", "":
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, err
				}
			}
			if !strings.Contains(dsn, "?") {
				dsn += "?_busy_timeout=5000&_journal_mode=WAL"
			}
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// SetClock 替换入库时间来源
func (s *Store) SetClock(now func() time.Time) {
	s.writeMu.Lock()
	s.now = now
	s.writeMu.Unlock()
}

// Close 释放数据库与 Redis 连接
func (s *Store) Close() error {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunesDB 按 rune 数截断字符串，确保不会超过数据库字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// Exists 判断 (feed, uid) 是否已入库
func (s *Store) Exists(ctx context.Context, feedURL, itemUID string) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&Article{}).
		Where("feed_url = ? AND item_uid = ?", feedURL, itemUID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertArticle 写入一条文章。重复的 (feed, uid) 返回 inserted=false 且不报错。
func (s *Store) InsertArticle(ctx context.Context, a *Article) (uint, bool, error) {
	row := *a
	row.ID = 0
	row.Title = truncateRunesDB(toValidUTF8(row.Title), 1024)
	row.Author = truncateRunesDB(toValidUTF8(row.Author), 256)
	row.PubDate = truncateRunesDB(row.PubDate, 128)
	row.SummaryText = toValidUTF8(row.SummaryText)
	if row.MatchedKeywords == nil {
		row.MatchedKeywords = datatypes.JSONSlice[string]{}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row.CreatedAt = s.now().UTC()
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	*a = row
	return row.ID, true, nil
}

// Prune 保留最新的 maxItems 条，按 id 从旧到新删除多余部分；maxItems <= 0 视为不限制
func (s *Store) Prune(ctx context.Context, maxItems int) (int64, error) {
	if maxItems <= 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db := s.DB.WithContext(ctx)
	var total int64
	if err := db.Model(&Article{}).Count(&total).Error; err != nil {
		return 0, err
	}
	excess := total - int64(maxItems)
	if excess <= 0 {
		return 0, nil
	}

	// 找到第 excess 条最旧记录的 id，删除 id <= 它的所有行
	var ids []uint
	if err := db.Model(&Article{}).Order("id ASC").Offset(int(excess-1)).Limit(1).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.Where("id <= ?", ids[0]).Delete(&Article{})
	if res.Error != nil {
		return 0, res.Error
	}
	s.log.Debug("pruned articles", "deleted", res.RowsAffected, "max", maxItems)
	return res.RowsAffected, nil
}

// ArticlePage 列表分页结果，Total 为过滤后的总数
type ArticlePage struct {
	Total int64     `json:"total"`
	Items []Article `json:"items"`
}

// ListArticles 按入库时间倒序分页，feed 可选；结果在 Redis 中短暂缓存
func (s *Store) ListArticles(ctx context.Context, limit, offset int, feed string) (ArticlePage, error) {
	limit, offset = normalizePage(limit, offset)
	cacheKey := fmt.Sprintf("articles:list:%s:%d:%d", feed, limit, offset)

	var page ArticlePage
	if s.getCache(ctx, cacheKey, &page) {
		return page, nil
	}

	db := s.DB.WithContext(ctx).Model(&Article{})
	if feed != "" {
		db = db.Where("feed_url = ?", feed)
	}
	if err := db.Count(&page.Total).Error; err != nil {
		return ArticlePage{}, err
	}
	if err := db.Order("id DESC").Limit(limit).Offset(offset).Find(&page.Items).Error; err != nil {
		return ArticlePage{}, err
	}

	s.setCache(ctx, cacheKey, page)
	return page, nil
}

// ListInRange 返回 [start, end) 内入库的文章，按入库时间升序
func (s *Store) ListInRange(ctx context.Context, start, end time.Time) ([]Article, error) {
	var out []Article
	err := s.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetArticle 按 id 查询
func (s *Store) GetArticle(ctx context.Context, id uint) (*Article, error) {
	var a Article
	err := s.DB.WithContext(ctx).First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountArticles 当前文章总数
func (s *Store) CountArticles(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&Article{}).Count(&n).Error
	return n, err
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// 这里不做写后失效，完全依赖短 TTL 让缓存自然过期
func (s *Store) getCache(ctx context.Context, key string, dst any) bool {
	if s.Redis == nil {
		return false
	}
	bs, err := s.Redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(bs, dst) == nil
}

func (s *Store) setCache(ctx context.Context, key string, v any) {
	if s.Redis == nil {
		return
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.Redis.Set(ctx, key, bs, cacheTTL).Err(); err != nil {
		s.log.Debug("redis set failed", "key", key, "err", err)
	}
}
