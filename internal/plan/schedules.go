package plan

import (
	"sort"

	"DCAKeeper/internal/model"
)

// scheduleBook holds one schedule record per owner. Records are never deleted.
//
// Methods that change a record return the new value instead of storing it; the service
// installs it with put only after the batch containing it has been committed.
type scheduleBook struct {
	records map[string]model.Schedule
}

func newScheduleBook(records map[string]model.Schedule) scheduleBook {
	if records == nil {
		records = make(map[string]model.Schedule)
	}
	return scheduleBook{records: records}
}

func (b *scheduleBook) get(owner string) (model.Schedule, bool) {
	sc, ok := b.records[owner]
	return sc, ok
}

func (b *scheduleBook) put(sc model.Schedule) {
	b.records[sc.Owner] = sc
}

// create validates a new schedule for owner. firstEver reports whether the owner has never
// had a schedule before.
func (b *scheduleBook) create(owner string, amount, frequency, now uint64, p Params) (sc model.Schedule, firstEver bool, err error) {
	if amount < p.MinAmount {
		return sc, false, ErrInvalidAmount
	}
	if frequency < p.MinFrequency {
		return sc, false, ErrInvalidFrequency
	}
	prev, exists := b.records[owner]
	if exists && prev.Active {
		return sc, false, ErrNotAuthorized
	}
	return model.Schedule{
		Owner:             owner,
		AmountPerPurchase: amount,
		FrequencyTicks:    frequency,
		NextExecutionTick: satAdd(now, frequency),
		Active:            true,
		CreatedAt:         now,
	}, !exists, nil
}

func (b *scheduleBook) deactivate(owner string) (model.Schedule, error) {
	sc, ok := b.records[owner]
	if !ok {
		return sc, ErrScheduleNotFound
	}
	if !sc.Active {
		return sc, ErrScheduleNotActive
	}
	sc.Active = false
	return sc, nil
}

// applyExecution advances the schedule by exactly one interval and adds the purchase totals.
func applyExecution(sc model.Schedule, net, target uint64) model.Schedule {
	sc.NextExecutionTick = satAdd(sc.NextExecutionTick, sc.FrequencyTicks)
	sc.TotalPurchased = satAdd(sc.TotalPurchased, net)
	sc.AccumulatedTarget = satAdd(sc.AccumulatedTarget, target)
	return sc
}

func resetAccumulatedTarget(sc model.Schedule) model.Schedule {
	sc.AccumulatedTarget = 0
	return sc
}

func (b *scheduleBook) owners() []string {
	out := make([]string, 0, len(b.records))
	for owner := range b.records {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out
}
