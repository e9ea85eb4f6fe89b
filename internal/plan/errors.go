package plan

import "errors"

var (
	ErrNotAuthorized       = errors.New("not authorized")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidFrequency    = errors.New("invalid frequency")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrScheduleNotActive   = errors.New("schedule not active")
	ErrExecutionTooEarly   = errors.New("execution too early")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSwapFailed          = errors.New("swap failed")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrPersistence         = errors.New("persistence failed")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotAuthorized, "not_authorized"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidFrequency, "invalid_frequency"},
	{ErrScheduleNotFound, "schedule_not_found"},
	{ErrScheduleNotActive, "schedule_not_active"},
	{ErrExecutionTooEarly, "execution_too_early"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrSwapFailed, "swap_failed"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrPersistence, "persistence_failed"},
}

// Code returns a stable identifier for err, used in API responses and metric labels.
// Errors that don't wrap one of the package sentinels map to "internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
