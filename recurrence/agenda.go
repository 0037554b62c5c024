package recurrence

import (
	"context"
	"time"
)

// Agenda answers "what is pending / done" for a local time range across all
// items. Items rejected by Filter (soft-deleted, inactive) are left out.
type Agenda struct {
	Store  Store
	Filter ItemFilter // nil keeps every item
}

// NewAgenda creates an Agenda.
func NewAgenda(store Store, filter ItemFilter) *Agenda {
	return &Agenda{Store: store, Filter: filter}
}

// DayAgenda is the split view of one local range.
type DayAgenda struct {
	Window  Window
	Pending []Instance
	Done    []DoneInstance
}

// Pending returns instances in the local range with no completion.
func (a *Agenda) Pending(ctx context.Context, dayStartLocal, dayEndLocal, tz string) ([]Instance, error) {
	view, err := a.Range(ctx, dayStartLocal, dayEndLocal, tz)
	if err != nil {
		return nil, err
	}
	return view.Pending, nil
}

// Done returns instances in the local range that have a completion, joined
// with its quantity, note and update time.
func (a *Agenda) Done(ctx context.Context, dayStartLocal, dayEndLocal, tz string) ([]DoneInstance, error) {
	view, err := a.Range(ctx, dayStartLocal, dayEndLocal, tz)
	if err != nil {
		return nil, err
	}
	return view.Done, nil
}

// Day is Range over one whole local calendar day ("2006-01-02").
func (a *Agenda) Day(ctx context.Context, day, tz string) (DayAgenda, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return DayAgenda{}, err
	}
	wall, err := time.Parse("2006-01-02", day)
	if err != nil {
		return DayAgenda{}, &TimestampError{Field: "day", Value: day}
	}
	start := resolveWall(wall, loc).UTC()
	endExclusive := resolveWall(wall.AddDate(0, 0, 1), loc).UTC()
	return a.between(ctx, Window{Start: start, End: endExclusive.Add(-time.Second)})
}

// Range splits the instances in [dayStartLocal, dayEndLocal] into pending and done.
func (a *Agenda) Range(ctx context.Context, dayStartLocal, dayEndLocal, tz string) (DayAgenda, error) {
	loc, err := LoadZone(tz)
	if err != nil {
		return DayAgenda{}, err
	}
	from, err := parseField("dayStart", dayStartLocal, loc)
	if err != nil {
		return DayAgenda{}, err
	}
	to, err := parseField("dayEnd", dayEndLocal, loc)
	if err != nil {
		return DayAgenda{}, err
	}
	if to.Before(from) {
		return DayAgenda{}, ErrInvalidWindow
	}
	return a.between(ctx, Window{Start: from.UTC(), End: to.UTC()})
}

func (a *Agenda) between(ctx context.Context, w Window) (DayAgenda, error) {
	instances, err := a.Store.LoadAllInstancesInRange(ctx, w.Start, w.End)
	if err != nil {
		return DayAgenda{}, storageErr("load instances", err)
	}

	view := DayAgenda{Window: w, Pending: []Instance{}, Done: []DoneInstance{}}
	active := make(map[ItemID]bool)
	logs := make(map[ItemID]map[OccurrenceKey]Completion)

	for _, inst := range instances {
		ok, seen := active[inst.ItemID]
		if !seen {
			ok = true
			if a.Filter != nil {
				if ok, err = a.Filter.IsActive(ctx, inst.ItemID); err != nil {
					return DayAgenda{}, storageErr("item filter", err)
				}
			}
			active[inst.ItemID] = ok
		}
		if !ok {
			continue
		}

		byKey, loaded := logs[inst.ItemID]
		if !loaded {
			cs, err := a.Store.LoadCompletions(ctx, inst.ItemID)
			if err != nil {
				return DayAgenda{}, storageErr("load completions", err)
			}
			byKey = make(map[OccurrenceKey]Completion, len(cs))
			for _, c := range cs {
				byKey[c.Key] = c
			}
			logs[inst.ItemID] = byKey
		}

		if c, done := byKey[inst.Key]; done {
			view.Done = append(view.Done, DoneInstance{
				Instance:  inst,
				Quantity:  c.Quantity,
				Note:      c.Note,
				UpdatedAt: c.UpdatedAt,
			})
			continue
		}
		view.Pending = append(view.Pending, inst)
	}
	return view, nil
}
