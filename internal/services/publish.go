package services

import (
	"context"
	"sort"

	"expensegrid/internal/core"
	"expensegrid/internal/log"
	"expensegrid/internal/storage"
)

// publish announces every distinct period once. Failures are logged and
// never reach the caller.
func (s *ExpenseService) publish(ctx context.Context, reason string, periods ...core.Period) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "Publisher not configured, skipping month changed event", "reason", reason)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	for _, p := range uniquePeriods(periods) {
		if err := s.publisher.PublishMonthChanged(ctx, p.Year, p.Month, reason); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish month changed event",
				log.NewFields().
					WithOperation(log.OpPublish).
					WithPeriod(p.Year, p.Month).
					WithError(err).
					ToSlice()...)
		}
	}
}

// affectedPeriods lists the months touched by a reconciled batch.
func affectedPeriods(r storage.BatchResult) []core.Period {
	periods := make([]core.Period, 0, len(r.Saved)+len(r.Deleted)+len(r.Replaced))
	for _, e := range r.Saved {
		periods = append(periods, core.PeriodOf(e.Date))
	}
	for _, e := range r.Deleted {
		periods = append(periods, core.PeriodOf(e.Date))
	}
	for _, e := range r.Replaced {
		periods = append(periods, core.PeriodOf(e.Date))
	}
	return uniquePeriods(periods)
}

// uniquePeriods dedupes and sorts periods oldest first.
func uniquePeriods(in []core.Period) []core.Period {
	seen := make(map[core.Period]struct{}, len(in))
	out := make([]core.Period, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}
