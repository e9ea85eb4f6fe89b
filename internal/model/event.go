package model

import "time"

// EventKind names the operation that produced an Event.
type EventKind string

const (
	EventCreate         EventKind = "CREATE"
	EventDeposit        EventKind = "DEPOSIT"
	EventExecute        EventKind = "EXECUTE"
	EventCancel         EventKind = "CANCEL"
	EventWithdrawSource EventKind = "WITHDRAW_SOURCE"
	EventWithdrawTarget EventKind = "WITHDRAW_TARGET"
	EventCollectFees    EventKind = "COLLECT_FEES"
)

// Event is the history record written alongside every successful mutation.
type Event struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	Owner        string    `json:"owner"`
	Amount       uint64    `json:"amount"`
	Fee          uint64    `json:"fee,omitempty"`
	TargetAmount uint64    `json:"target_amount,omitempty"`
	Tick         uint64    `json:"tick"`
	At           time.Time `json:"at"`
}
