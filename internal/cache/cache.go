package cache

import (
	"context"
	"time"

	"kiranapos/backend/internal/domain"
)

// ReportCache stores rendered daily reports for closed (immutable) days.
type ReportCache interface {
	Get(ctx context.Context, date string) (*domain.DailyReport, bool, error)
	Set(ctx context.Context, date string, report *domain.DailyReport, ttl time.Duration) error
}

// NoopReportCache is used when no redis address is configured.
type NoopReportCache struct{}

func (NoopReportCache) Get(context.Context, string) (*domain.DailyReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(context.Context, string, *domain.DailyReport, time.Duration) error {
	return nil
}
