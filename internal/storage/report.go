package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// UpsertReport 按 (kind, start, end) 写入报表：已存在则原地覆盖内容并返回原 id
func (s *Store) UpsertReport(ctx context.Context, r *Report) (uint, error) {
	row := *r
	row.WindowStart = row.WindowStart.UTC()
	row.WindowEnd = row.WindowEnd.UTC()
	row.Title = truncateRunesDB(toValidUTF8(row.Title), 256)
	row.Digest = toValidUTF8(row.Digest)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	row.CreatedAt = s.now().UTC()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Report
		err := tx.Where("kind = ? AND window_start = ? AND window_end = ?", row.Kind, row.WindowStart, row.WindowEnd).
			First(&existing).Error
		switch {
		case err == nil:
			row.ID = existing.ID
			return tx.Model(&existing).Updates(map[string]any{
				"title":         row.Title,
				"digest":        row.Digest,
				"article_count": row.ArticleCount,
				"created_at":    row.CreatedAt,
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			row.ID = 0
			return tx.Create(&row).Error
		default:
			return err
		}
	})
	if err != nil {
		return 0, fmt.Errorf("upsert report %s: %w", row.Kind, err)
	}
	*r = row
	return row.ID, nil
}

// ReportPage 报表分页结果
type ReportPage struct {
	Total int64    `json:"total"`
	Items []Report `json:"items"`
}

// ListReports 按窗口结束时间倒序分页，kind 可选
func (s *Store) ListReports(ctx context.Context, limit, offset int, kind string) (ReportPage, error) {
	limit, offset = normalizePage(limit, offset)
	cacheKey := fmt.Sprintf("reports:list:%s:%d:%d", kind, limit, offset)

	var page ReportPage
	if s.getCache(ctx, cacheKey, &page) {
		return page, nil
	}

	db := s.DB.WithContext(ctx).Model(&Report{})
	if kind != "" {
		db = db.Where("kind = ?", kind)
	}
	if err := db.Count(&page.Total).Error; err != nil {
		return ReportPage{}, err
	}
	if err := db.Order("window_end DESC, id DESC").Limit(limit).Offset(offset).Find(&page.Items).Error; err != nil {
		return ReportPage{}, err
	}

	s.setCache(ctx, cacheKey, page)
	return page, nil
}

// GetReport 按 id 查询
func (s *Store) GetReport(ctx context.Context, id uint) (*Report, error) {
	var r Report
	err := s.DB.WithContext(ctx).First(&r, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
