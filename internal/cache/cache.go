package cache

import (
	"context"
	"time"

	"tokopos/backend/internal/eligibility"
)

// EligibilityCache holds per-sale return-eligibility snapshots for the fast
// read path. It is advisory only: the store re-validates inside its own
// transaction before any write.
type EligibilityCache interface {
	Get(ctx context.Context, saleID string) (*eligibility.Report, bool, error)
	Set(ctx context.Context, saleID string, report *eligibility.Report, ttl time.Duration) error
	Invalidate(ctx context.Context, saleID string) error
}

type NoopEligibilityCache struct{}

func (NoopEligibilityCache) Get(_ context.Context, _ string) (*eligibility.Report, bool, error) {
	return nil, false, nil
}

func (NoopEligibilityCache) Set(_ context.Context, _ string, _ *eligibility.Report, _ time.Duration) error {
	return nil
}

func (NoopEligibilityCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
