package txcache

import (
	"fmt"
	"sort"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/jsonfile"
)

const statsDateLayout = "2006-01-02"

// DayStats is one calendar day's outcome counters.
type DayStats struct {
	Date    string `json:"date"`
	Granted int    `json:"valid_entries"`
	Denied  int    `json:"invalid_entries"`
	Blocked int    `json:"blocked_entries"`
}

// RecordOutcome bumps today's counter for the given status.
func (c *Cache) RecordOutcome(status types.Status) error {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	days, err := c.readStatsLocked()
	if err != nil {
		return err
	}
	today := c.now().Format(statsDateLayout)
	day, ok := days[today]
	if !ok {
		day = DayStats{Date: today}
	}
	switch status {
	case types.StatusGranted:
		day.Granted++
	case types.StatusDenied:
		day.Denied++
	case types.StatusBlocked:
		day.Blocked++
	default:
		return fmt.Errorf("daily stats: unknown status %q", status)
	}
	days[today] = day
	return jsonfile.Write(c.statsPath, days)
}

// Today returns the current day's counters, zeroed if nothing has been
// recorded yet.
func (c *Cache) Today() (DayStats, error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	days, err := c.readStatsLocked()
	if err != nil {
		return DayStats{}, err
	}
	today := c.now().Format(statsDateLayout)
	day, ok := days[today]
	if !ok {
		day = DayStats{Date: today}
	}
	return day, nil
}

// History returns all recorded days, newest first.
func (c *Cache) History() ([]DayStats, error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	days, err := c.readStatsLocked()
	if err != nil {
		return nil, err
	}
	out := make([]DayStats, 0, len(days))
	for _, day := range days {
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// PruneStats drops day entries older than keepDays and returns how many
// were removed.
func (c *Cache) PruneStats(keepDays int) (int, error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	days, err := c.readStatsLocked()
	if err != nil {
		return 0, err
	}
	cutoff := c.now().AddDate(0, 0, -keepDays).Format(statsDateLayout)
	removed := 0
	for date := range days {
		if date < cutoff {
			delete(days, date)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := jsonfile.Write(c.statsPath, days); err != nil {
		return 0, err
	}
	return removed, nil
}

func (c *Cache) readStatsLocked() (map[string]DayStats, error) {
	days := map[string]DayStats{}
	if _, err := jsonfile.Read(c.statsPath, &days); err != nil {
		return nil, fmt.Errorf("daily stats: %w", err)
	}
	return days, nil
}
