package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"supplyrouter/internal/apperr"
	"supplyrouter/internal/domain"
	"supplyrouter/internal/events"
)

const (
	DefaultReportDays = 7
	MaxReportDays     = 30

	DefaultPerformanceLimit = 10
	MaxPerformanceLimit     = 50

	DefaultActivityHours = 24
	MaxActivityHours     = 168
)

// DailyOrders counts orders created on each of the last days UTC calendar
// days, oldest first. Days without orders are reported as zero.
func (e Engine) DailyOrders(ctx context.Context, days int) ([]domain.DailyCount, error) {
	if days == 0 {
		days = DefaultReportDays
	}
	if days < 1 || days > MaxReportDays {
		return nil, apperr.Validation("days must be between 1 and %d", MaxReportDays)
	}
	now := e.now().UTC()
	first := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
	counts, err := e.Repo.CountOrdersByDay(ctx, first.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	out := make([]domain.DailyCount, 0, days)
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, domain.DailyCount{Date: day, Count: counts[day]})
	}
	return out, nil
}

// SupplierPerformance ranks suppliers by completion rate. A supplier's total
// is the orders it holds plus the ones it declined; ties go to the larger
// total, then the lower id.
func (e Engine) SupplierPerformance(ctx context.Context, limit int) ([]domain.SupplierPerformance, error) {
	if limit == 0 {
		limit = DefaultPerformanceLimit
	}
	if limit < 1 || limit > MaxPerformanceLimit {
		return nil, apperr.Validation("limit must be between 1 and %d", MaxPerformanceLimit)
	}
	counts, err := e.Repo.SupplierOrderCounts(ctx)
	if err != nil {
		return nil, err
	}
	declined, err := e.Repo.CountActivityByActor(ctx, events.OrderDeclined)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SupplierPerformance, 0, len(counts))
	for _, c := range counts {
		p := domain.SupplierPerformance{
			SupplierID:      c.SupplierID,
			Name:            c.Name,
			CompletedOrders: c.Completed,
			DeclinedOrders:  declined[c.SupplierID],
		}
		p.TotalOrders = c.Held + p.DeclinedOrders
		if p.TotalOrders > 0 {
			p.CompletionRate = math.Round(float64(p.CompletedOrders)/float64(p.TotalOrders)*10000) / 100
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CompletionRate != out[j].CompletionRate {
			return out[i].CompletionRate > out[j].CompletionRate
		}
		if out[i].TotalOrders != out[j].TotalOrders {
			return out[i].TotalOrders > out[j].TotalOrders
		}
		return out[i].SupplierID < out[j].SupplierID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ActivityStats counts activity per action and per UTC hour over the last
// hours hours.
func (e Engine) ActivityStats(ctx context.Context, hours int) (domain.ActivityStats, error) {
	if hours == 0 {
		hours = DefaultActivityHours
	}
	if hours < 1 || hours > MaxActivityHours {
		return domain.ActivityStats{}, apperr.Validation("hours must be between 1 and %d", MaxActivityHours)
	}
	since := e.now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)
	byAction, err := e.Repo.CountActivityByAction(ctx, since)
	if err != nil {
		return domain.ActivityStats{}, err
	}
	byHour, err := e.Repo.CountActivityByHour(ctx, since)
	if err != nil {
		return domain.ActivityStats{}, err
	}
	keys := make([]string, 0, len(byHour))
	for k := range byHour {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	hourly := make([]domain.HourlyCount, 0, len(keys))
	for _, k := range keys {
		hourly = append(hourly, domain.HourlyCount{Hour: k + ":00:00Z", Count: byHour[k]})
	}
	return domain.ActivityStats{PeriodHours: hours, ActionCounts: byAction, HourlyActivity: hourly}, nil
}

// StatusDistribution counts orders created in period per status, in
// lifecycle order. Statuses with no orders are left out.
func (e Engine) StatusDistribution(ctx context.Context, period string) ([]domain.StatusCount, error) {
	since, err := e.periodStart(period)
	if err != nil {
		return nil, err
	}
	byStatus, err := e.Repo.CountOrdersByStatus(ctx, since)
	if err != nil {
		return nil, err
	}
	out := []domain.StatusCount{}
	for _, s := range domain.Statuses {
		if n := byStatus[s]; n > 0 {
			out = append(out, domain.StatusCount{Status: s, Count: n})
		}
	}
	return out, nil
}
