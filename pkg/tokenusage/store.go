// Package tokenusage implements per-user token usage aggregation and its
// REST reporting surface: today/week/month totals, a daily history
// series, and a top-20 summary across all users, all backed by the
// token_usage table the worker pool's dialogue driver increments as turns
// complete.
package tokenusage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Totals is one user's usage across three rolling windows.
type Totals struct {
	Username  string    `json:"username"`
	Today     int64     `json:"today"`
	ThisWeek  int64     `json:"this_week"`
	ThisMonth int64     `json:"this_month"`
	UpdatedAt time.Time `json:"last_updated"`
}

// DayBucket is one day's token total in a history series.
type DayBucket struct {
	Date   string `json:"date"`
	Tokens int64  `json:"tokens"`
}

// History is a per-user daily token series over an inclusive date range.
type History struct {
	Username    string      `json:"username"`
	Days        []DayBucket `json:"history"`
	PeriodStart string      `json:"period_start"`
	PeriodEnd   string      `json:"period_end"`
}

// SummaryEntry is one row of the cross-user top-N summary.
type SummaryEntry struct {
	Username  string `json:"username"`
	Today     int64  `json:"today"`
	ThisWeek  int64  `json:"this_week"`
	ThisMonth int64  `json:"this_month"`
	Total     int64  `json:"total"`
}

// MaxSummaryUsers bounds the cross-user summary query (§6: "top-20 users by
// current-month tokens").
const MaxSummaryUsers = 20

// Store aggregates the token_usage table, one row per (username, day).
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record adds to username's running total for day, creating the row if
// absent. Called once per dialogue turn (llmCalls/toolCalls are usually 0
// or 1 per call site; totalTokens accumulates the turn's reported usage).
func (s *Store) Record(ctx context.Context, username string, day time.Time, llmCalls, toolCalls, totalTokens int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage (username, day, llm_calls, tool_calls, total_tokens)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username, day) DO UPDATE SET
			llm_calls = token_usage.llm_calls + $3,
			tool_calls = token_usage.tool_calls + $4,
			total_tokens = token_usage.total_tokens + $5
	`, username, day.UTC().Truncate(24*time.Hour), llmCalls, toolCalls, totalTokens)
	if err != nil {
		return fmt.Errorf("tokenusage: record: %w", err)
	}
	return nil
}

// Totals returns username's today/this-week/this-month token sums. Week
// starts Monday, month starts on the 1st, matching the source reporting
// convention.
func (s *Store) Totals(ctx context.Context, username string, now time.Time) (Totals, error) {
	todayStart := truncateToDay(now)
	weekStart := todayStart.AddDate(0, 0, -mondayOffset(todayStart))
	monthStart := time.Date(todayStart.Year(), todayStart.Month(), 1, 0, 0, 0, 0, todayStart.Location())

	today, err := s.sumSince(ctx, username, todayStart)
	if err != nil {
		return Totals{}, err
	}
	week, err := s.sumSince(ctx, username, weekStart)
	if err != nil {
		return Totals{}, err
	}
	month, err := s.sumSince(ctx, username, monthStart)
	if err != nil {
		return Totals{}, err
	}

	return Totals{Username: username, Today: today, ThisWeek: week, ThisMonth: month, UpdatedAt: now}, nil
}

func (s *Store) sumSince(ctx context.Context, username string, since time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0) FROM token_usage
		WHERE username = $1 AND day >= $2
	`, username, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("tokenusage: sum since %s: %w", since, err)
	}
	if total < 0 {
		return 0, nil
	}
	return total, nil
}

// History returns a zero-filled daily token series for the last days days
// (inclusive of today), clamped to [1, 365].
func (s *Store) History(ctx context.Context, username string, days int, now time.Time) (History, error) {
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}

	end := truncateToDay(now)
	start := end.AddDate(0, 0, -(days - 1))

	rows, err := s.db.QueryContext(ctx, `
		SELECT day, SUM(total_tokens) FROM token_usage
		WHERE username = $1 AND day >= $2
		GROUP BY day
		ORDER BY day
	`, username, start)
	if err != nil {
		return History{}, fmt.Errorf("tokenusage: history query: %w", err)
	}
	defer rows.Close()

	byDay := map[string]int64{}
	for rows.Next() {
		var day time.Time
		var tokens int64
		if err := rows.Scan(&day, &tokens); err != nil {
			return History{}, fmt.Errorf("tokenusage: scan history row: %w", err)
		}
		if tokens < 0 {
			tokens = 0
		}
		byDay[day.Format("2006-01-02")] = tokens
	}
	if err := rows.Err(); err != nil {
		return History{}, fmt.Errorf("tokenusage: history rows: %w", err)
	}

	var buckets []DayBucket
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		buckets = append(buckets, DayBucket{Date: key, Tokens: byDay[key]})
	}

	return History{
		Username:    username,
		Days:        buckets,
		PeriodStart: start.Format("2006-01-02"),
		PeriodEnd:   end.Format("2006-01-02"),
	}, nil
}

// Summary returns the top MaxSummaryUsers users by current-month tokens.
func (s *Store) Summary(ctx context.Context, now time.Time) ([]SummaryEntry, error) {
	todayStart := truncateToDay(now)
	weekStart := todayStart.AddDate(0, 0, -mondayOffset(todayStart))
	monthStart := time.Date(todayStart.Year(), todayStart.Month(), 1, 0, 0, 0, 0, todayStart.Location())

	rows, err := s.db.QueryContext(ctx, `
		SELECT username, SUM(total_tokens) AS month_total
		FROM token_usage
		WHERE day >= $1
		GROUP BY username
		ORDER BY month_total DESC
		LIMIT $2
	`, monthStart, MaxSummaryUsers)
	if err != nil {
		return nil, fmt.Errorf("tokenusage: summary query: %w", err)
	}
	var usernames []string
	for rows.Next() {
		var u string
		var monthTotal int64
		if err := rows.Scan(&u, &monthTotal); err != nil {
			rows.Close()
			return nil, fmt.Errorf("tokenusage: scan summary row: %w", err)
		}
		usernames = append(usernames, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("tokenusage: summary rows: %w", err)
	}
	rows.Close()

	entries := make([]SummaryEntry, 0, len(usernames))
	for _, u := range usernames {
		today, err := s.sumSince(ctx, u, todayStart)
		if err != nil {
			return nil, err
		}
		week, err := s.sumSince(ctx, u, weekStart)
		if err != nil {
			return nil, err
		}
		month, err := s.sumSince(ctx, u, monthStart)
		if err != nil {
			return nil, err
		}
		total, err := s.sumSince(ctx, u, time.Time{})
		if err != nil {
			return nil, err
		}
		entries = append(entries, SummaryEntry{Username: u, Today: today, ThisWeek: week, ThisMonth: month, Total: total})
	}
	return entries, nil
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mondayOffset returns how many days back from t (assumed truncated to a
// day) the preceding Monday falls; Go's time.Weekday has Sunday == 0.
func mondayOffset(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 { // Sunday
		return 6
	}
	return wd - 1
}
