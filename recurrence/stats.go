/*
stats.go - Streak and adherence calculator

PURPOSE:
  Derives habit statistics from the join of the instance cache and the
  completion log. Everything here is a pure read.

DEFINITIONS:
  Current streak:  consecutive completed instances ending at the most recent
                   instance at or before asOf (a gap stops the count)
  Longest streak:  the longest run of consecutive completed instances
  Adherence:       100 * completed / total over the last N days, 0 if total is 0

NOTE:
  Streaks are counted over cached instances. Completions whose instance was
  removed by a rule change still exist in the log but do not bridge gaps.
*/
package recurrence

import (
	"context"
	"time"
)

// Summary bundles the statistics of one item.
type Summary struct {
	ItemID        ItemID
	CurrentStreak int
	LongestStreak int
	Adherence     float64 // percent, 0-100
	WindowDays    int
	Total         int // instances in the adherence window
	Completed     int // completed instances in the adherence window
}

// Calculator computes streaks and adherence.
type Calculator struct {
	Store Store
	Now   func() time.Time
}

// NewCalculator creates a Calculator reading from store.
func NewCalculator(store Store) *Calculator {
	return &Calculator{Store: store, Now: time.Now}
}

// CurrentStreak counts consecutive completed instances walking back from the
// most recent instance that starts at or before asOf.
func (c *Calculator) CurrentStreak(ctx context.Context, itemID ItemID, asOf time.Time) (int, error) {
	instances, err := c.Store.LoadInstances(ctx, itemID)
	if err != nil {
		return 0, storageErr("load instances", err)
	}
	done, err := c.completedKeys(ctx, itemID)
	if err != nil {
		return 0, err
	}

	streak := 0
	for i := len(instances) - 1; i >= 0; i-- {
		inst := instances[i]
		if inst.StartUTC.After(asOf) {
			continue
		}
		if !done[inst.Key] {
			break
		}
		streak++
	}
	return streak, nil
}

// LongestStreak returns the longest run of consecutive completed instances.
func (c *Calculator) LongestStreak(ctx context.Context, itemID ItemID) (int, error) {
	instances, err := c.Store.LoadInstances(ctx, itemID)
	if err != nil {
		return 0, storageErr("load instances", err)
	}
	done, err := c.completedKeys(ctx, itemID)
	if err != nil {
		return 0, err
	}

	longest, run := 0, 0
	for _, inst := range instances {
		if !done[inst.Key] {
			run = 0
			continue
		}
		run++
		if run > longest {
			longest = run
		}
	}
	return longest, nil
}

// Adherence returns the completion percentage over [now - days, now].
func (c *Calculator) Adherence(ctx context.Context, itemID ItemID, days int) (float64, error) {
	pct, _, _, err := c.adherence(ctx, itemID, days)
	return pct, err
}

func (c *Calculator) adherence(ctx context.Context, itemID ItemID, days int) (pct float64, total, completed int, err error) {
	if days <= 0 {
		return 0, 0, 0, ErrInvalidWindow
	}
	now := c.now()
	from := now.Add(-time.Duration(days) * 24 * time.Hour)

	instances, err := c.Store.LoadInstancesInRange(ctx, itemID, from, now)
	if err != nil {
		return 0, 0, 0, storageErr("load instances", err)
	}
	done, err := c.completedKeys(ctx, itemID)
	if err != nil {
		return 0, 0, 0, err
	}

	total = len(instances)
	for _, inst := range instances {
		if done[inst.Key] {
			completed++
		}
	}
	if total == 0 {
		return 0, 0, 0, nil
	}
	return 100 * float64(completed) / float64(total), total, completed, nil
}

// Summary computes all statistics of itemID as of now.
func (c *Calculator) Summary(ctx context.Context, itemID ItemID, days int) (Summary, error) {
	current, err := c.CurrentStreak(ctx, itemID, c.now())
	if err != nil {
		return Summary{}, err
	}
	longest, err := c.LongestStreak(ctx, itemID)
	if err != nil {
		return Summary{}, err
	}
	pct, total, completed, err := c.adherence(ctx, itemID, days)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		ItemID:        itemID,
		CurrentStreak: current,
		LongestStreak: longest,
		Adherence:     pct,
		WindowDays:    days,
		Total:         total,
		Completed:     completed,
	}, nil
}

func (c *Calculator) completedKeys(ctx context.Context, itemID ItemID) (map[OccurrenceKey]bool, error) {
	completions, err := c.Store.LoadCompletions(ctx, itemID)
	if err != nil {
		return nil, storageErr("load completions", err)
	}
	done := make(map[OccurrenceKey]bool, len(completions))
	for _, cp := range completions {
		done[cp.Key] = true
	}
	return done, nil
}

func (c *Calculator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
