package cache

import (
	"context"
	"strconv"
	"time"

	"kedaipos/backend/internal/domain"
)

// CreditCache holds computed credit aging reports until a sale or payment
// commit invalidates them. Keys carry the generation current when the fill
// started; Invalidate moves the generation on, so a fill that raced a commit
// lands under a key nobody reads again.
type CreditCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, key string) (*domain.CreditAgingReport, bool, error)
	Set(ctx context.Context, key string, value *domain.CreditAgingReport, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// CreditAgingKey scopes a report to a cache generation and the calendar day
// it was aged against.
func CreditAgingKey(generation int64, asOf time.Time) string {
	return creditPrefix + strconv.FormatInt(generation, 10) + ":" + asOf.UTC().Format(time.DateOnly)
}

const (
	creditPrefix        = "credit:aging:"
	creditGenerationKey = "credit:aging-generation"
)

type NoopCreditCache struct{}

func (NoopCreditCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopCreditCache) Get(_ context.Context, _ string) (*domain.CreditAgingReport, bool, error) {
	return nil, false, nil
}

func (NoopCreditCache) Set(_ context.Context, _ string, _ *domain.CreditAgingReport, _ time.Duration) error {
	return nil
}

func (NoopCreditCache) Invalidate(_ context.Context) error {
	return nil
}
