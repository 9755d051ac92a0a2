package cache

import (
	"context"
	"time"

	"clinipay/backend/internal/domain"
)

type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.CashFlowReport, bool, error)
	Set(ctx context.Context, key string, value *domain.CashFlowReport, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.CashFlowReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.CashFlowReport, _ time.Duration) error {
	return nil
}
