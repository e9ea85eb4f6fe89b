package plan

import "DCAKeeper/internal/model"

// statsCounter holds the global counters. Like scheduleBook, the with* methods return the
// next value and leave installing it to the caller.
type statsCounter struct {
	s model.Stats
}

func (c *statsCounter) get() model.Stats  { return c.s }
func (c *statsCounter) set(s model.Stats) { c.s = s }

func (c *statsCounter) withUser() model.Stats {
	s := c.s
	s.TotalUsers = satAdd(s.TotalUsers, 1)
	return s
}

func (c *statsCounter) withExecution(amount, target, fee uint64) model.Stats {
	s := c.s
	s.TotalSourceProcessed = satAdd(s.TotalSourceProcessed, amount)
	s.TotalTargetPurchased = satAdd(s.TotalTargetPurchased, target)
	s.FeesCollected = satAdd(s.FeesCollected, fee)
	return s
}

// withoutFees removes a collected amount. Fees accrued after the amount was read are kept.
func (c *statsCounter) withoutFees(collected uint64) model.Stats {
	s := c.s
	if collected > s.FeesCollected {
		collected = s.FeesCollected
	}
	s.FeesCollected -= collected
	return s
}
