package cache

import (
	"context"
	"time"

	"vendia/backend/internal/domain"
)

// InvoiceCache holds rendered invoice documents so repeated reprints of the
// same sale skip the render step.
type InvoiceCache interface {
	Get(ctx context.Context, key string) (*domain.InvoiceDocument, bool, error)
	Set(ctx context.Context, key string, value *domain.InvoiceDocument, ttl time.Duration) error
}

type NoopInvoiceCache struct{}

func (NoopInvoiceCache) Get(_ context.Context, _ string) (*domain.InvoiceDocument, bool, error) {
	return nil, false, nil
}

func (NoopInvoiceCache) Set(_ context.Context, _ string, _ *domain.InvoiceDocument, _ time.Duration) error {
	return nil
}
