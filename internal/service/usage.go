package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

// Period selects the time window for usage analytics.
type Period string

const (
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period90d Period = "90d"
	PeriodAll Period = "all"
)

// ParsePeriod maps the wire value to a Period, defaulting to 30 days
// for unknown input.
func ParsePeriod(s string) Period {
	switch Period(s) {
	case Period7d, Period30d, Period90d, PeriodAll:
		return Period(s)
	}
	return Period30d
}

// Since returns the window lower bound relative to now. The zero time
// means no bound.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case Period7d:
		return now.AddDate(0, 0, -7)
	case Period30d:
		return now.AddDate(0, 0, -30)
	case Period90d:
		return now.AddDate(0, 0, -90)
	}
	return time.Time{}
}

// UsageRow is one labeled line of the analytics tables.
type UsageRow struct {
	ID           uuid.UUID
	Label        string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	Requests     int
	TotalTokens  int
	// SharePct is this row's whole-percent share of the table's total
	// tokens, 0 when the table sums to zero.
	SharePct int
	// CacheHit is the cached/input ratio formatted for display, or an
	// em dash when there were no input tokens.
	CacheHit string
}

// UsageSnapshot is the composed analytics view for one period.
type UsageSnapshot struct {
	Period Period
	Totals store.UsageTotals
	Models []UsageRow
	Users  []UsageRow
	Groups []UsageRow
	Days   []*store.UsageDay
}

// Usage composes the analytics view: instance totals plus per-model,
// per-user, per-group and per-day breakdowns, labeled by joining
// against the current registries. Rows for deleted users and models
// are kept and labeled "Unknown". Groups with no usage in the window
// still appear with zeroed counters.
func (s *Service) Usage(ctx context.Context, period Period, now time.Time) (*UsageSnapshot, error) {
	since := period.Since(now)

	totals, err := s.store.UsageTotals(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}

	byModel, err := s.store.UsageByModel(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("usage by model: %w", err)
	}
	byUser, err := s.store.UsageByUser(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("usage by user: %w", err)
	}
	byGroup, err := s.store.UsageByGroup(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("usage by group: %w", err)
	}
	days, err := s.store.UsageByDay(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("usage by day: %w", err)
	}

	snap := &UsageSnapshot{Period: period, Totals: *totals, Days: days}

	snap.Models = s.labelRows(ctx, byModel, func(ctx context.Context, id uuid.UUID) (string, error) {
		m, err := s.store.GetModel(ctx, id)
		if err != nil {
			return "", err
		}
		return m.Name, nil
	})
	snap.Users = s.labelRows(ctx, byUser, func(ctx context.Context, id uuid.UUID) (string, error) {
		u, err := s.store.GetUser(ctx, id)
		if err != nil {
			return "", err
		}
		return u.Name, nil
	})

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	snap.Groups = groupRows(groups, byGroup)

	return snap, nil
}

// labelRows turns rollups into display rows, resolving each key's label
// through lookup. Missing records label as "Unknown".
func (s *Service) labelRows(ctx context.Context, rollups []*store.UsageRollup, lookup func(context.Context, uuid.UUID) (string, error)) []UsageRow {
	rows := make([]UsageRow, 0, len(rollups))
	for _, r := range rollups {
		label, err := lookup(ctx, r.Key)
		if err != nil {
			label = "Unknown"
		}
		rows = append(rows, UsageRow{
			ID:           r.Key,
			Label:        label,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			CachedTokens: r.CachedTokens,
			Requests:     r.Requests,
			TotalTokens:  r.TotalTokens(),
			CacheHit:     cacheHit(r.CachedTokens, r.InputTokens),
		})
	}
	fillShares(rows)
	return rows
}

// groupRows merges rollups into the full group list so zero-usage
// groups still appear. Output is ordered by total tokens descending,
// ties by name.
func groupRows(groups []*store.Group, rollups []*store.UsageRollup) []UsageRow {
	byID := make(map[uuid.UUID]*store.UsageRollup, len(rollups))
	for _, r := range rollups {
		byID[r.Key] = r
	}
	rows := make([]UsageRow, 0, len(groups))
	for _, g := range groups {
		row := UsageRow{ID: g.ID, Label: g.Name, CacheHit: cacheHit(0, 0)}
		if r, ok := byID[g.ID]; ok {
			row.InputTokens = r.InputTokens
			row.OutputTokens = r.OutputTokens
			row.CachedTokens = r.CachedTokens
			row.Requests = r.Requests
			row.TotalTokens = r.TotalTokens()
			row.CacheHit = cacheHit(r.CachedTokens, r.InputTokens)
		}
		rows = append(rows, row)
	}
	sortRowsDesc(rows)
	fillShares(rows)
	return rows
}

func sortRowsDesc(rows []UsageRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalTokens != rows[j].TotalTokens {
			return rows[i].TotalTokens > rows[j].TotalTokens
		}
		return rows[i].Label < rows[j].Label
	})
}

// fillShares assigns each row its share of the summed total tokens,
// rounded to the nearest whole percent. A zero sum leaves every share
// at 0.
func fillShares(rows []UsageRow) {
	sum := 0
	for _, r := range rows {
		sum += r.TotalTokens
	}
	if sum == 0 {
		return
	}
	for i := range rows {
		rows[i].SharePct = (rows[i].TotalTokens*100 + sum/2) / sum
	}
}

// cacheHit formats the cached-token ratio against input tokens.
func cacheHit(cached, input int) string {
	if input == 0 {
		return "—"
	}
	return fmt.Sprintf("%.1f%%", float64(cached)/float64(input)*100)
}
