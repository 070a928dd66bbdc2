package service

import (
	"cmp"
	"context"
	"slices"
	"time"

	"kedaipos/backend/internal/cache"
	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/store"
)

var agingBuckets = []struct {
	label   string
	maxDays int
}{
	{"0-30", 30},
	{"31-60", 60},
	{"61-90", 90},
	{"90+", -1},
}

// CreditAging groups outstanding hutang by customer and by the age of the
// sale on the asOf calendar day.
func (s *Service) CreditAging(ctx context.Context, asOf time.Time) (domain.CreditAgingReport, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	local := asOf.In(s.location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	var report domain.CreditAgingReport
	err := s.execute(ctx, "credit_aging", func(ctx context.Context) error {
		// The generation is read before any sale, so a commit landing mid-fill
		// moves readers past whatever this fill writes.
		gen, err := s.credit.Generation(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("credit cache generation read failed")
			sales, err := s.repo.ListSales(ctx, store.SaleFilter{Status: domain.SaleStatusHutang})
			if err != nil {
				return err
			}
			report = buildCreditAging(sales, local, s.location)
			return nil
		}
		key := cache.CreditAgingKey(gen, day)

		cached, ok, err := s.credit.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("credit cache read failed")
		}
		if ok && cached != nil {
			report = *cached
			return nil
		}

		// Waiters share this fill, so it must outlive the caller that started it.
		fill := s.creditGroup.DoChan(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
			defer cancel()

			sales, err := s.repo.ListSales(ctx, store.SaleFilter{Status: domain.SaleStatusHutang})
			if err != nil {
				return nil, err
			}
			built := buildCreditAging(sales, local, s.location)
			if err := s.credit.Set(ctx, key, &built, s.creditTTL); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("credit cache write failed")
			}
			return built, nil
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-fill:
			if res.Err != nil {
				return res.Err
			}
			report = res.Val.(domain.CreditAgingReport)
			return nil
		}
	})
	return report, err
}

func buildCreditAging(sales []domain.Sale, asOf time.Time, loc *time.Location) domain.CreditAgingReport {
	report := domain.CreditAgingReport{AsOf: asOf.UTC(), Customers: []domain.CustomerCredit{}}
	byCustomer := map[string]*domain.CustomerCredit{}

	for _, sale := range sales {
		if sale.RemainingCents < 1 {
			continue
		}
		entry, ok := byCustomer[sale.CustomerName]
		if !ok {
			entry = &domain.CustomerCredit{CustomerName: sale.CustomerName, OldestSaleAt: sale.CreatedAt}
			for _, bucket := range agingBuckets {
				entry.Buckets = append(entry.Buckets, domain.CreditAgingBucket{Label: bucket.label})
			}
			byCustomer[sale.CustomerName] = entry
		}
		entry.Sales++
		entry.RemainingCents += sale.RemainingCents
		if sale.CreatedAt.Before(entry.OldestSaleAt) {
			entry.OldestSaleAt = sale.CreatedAt
		}
		entry.Buckets[bucketIndex(daysBetween(sale.CreatedAt, asOf, loc))].RemainingCents += sale.RemainingCents
		report.RemainingCents += sale.RemainingCents
	}

	for _, entry := range byCustomer {
		report.Customers = append(report.Customers, *entry)
	}
	slices.SortFunc(report.Customers, func(a, b domain.CustomerCredit) int {
		if c := cmp.Compare(b.RemainingCents, a.RemainingCents); c != 0 {
			return c
		}
		return cmp.Compare(a.CustomerName, b.CustomerName)
	})
	return report
}

func bucketIndex(days int) int {
	for i, bucket := range agingBuckets {
		if bucket.maxDays < 0 || days <= bucket.maxDays {
			return i
		}
	}
	return len(agingBuckets) - 1
}

// daysBetween counts calendar days in loc.
func daysBetween(from time.Time, to time.Time, loc *time.Location) int {
	f := from.In(loc)
	t := to.In(loc)
	start := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int(end.Sub(start).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
