package model

// Schedule is an owner's recurring-purchase configuration and running totals.
type Schedule struct {
	Owner             string `json:"owner"`
	AmountPerPurchase uint64 `json:"amount_per_purchase"`
	FrequencyTicks    uint64 `json:"frequency_ticks"`
	NextExecutionTick uint64 `json:"next_execution_tick"`
	TotalDeposited    uint64 `json:"total_deposited"`
	TotalPurchased    uint64 `json:"total_purchased"`
	AccumulatedTarget uint64 `json:"accumulated_target"`
	Active            bool   `json:"active"`
	CreatedAt         uint64 `json:"created_at"`
}

// Balance is the source-asset amount held in custody for an owner.
type Balance struct {
	Owner         string `json:"owner"`
	SourceBalance uint64 `json:"source_balance"`
}

// Stats holds the global aggregate counters.
type Stats struct {
	TotalUsers           uint64 `json:"total_users"`
	TotalSourceProcessed uint64 `json:"total_source_processed"`
	TotalTargetPurchased uint64 `json:"total_target_purchased"`
	FeesCollected        uint64 `json:"fees_collected"`
}
