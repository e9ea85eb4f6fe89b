package notifier

import (
	"fmt"
	"html"
	"maps"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"DCAKeeper/internal/model"
)

// Formatter renders plan state as Telegram HTML. Amounts are stored in base units and
// shown in whole-asset units using the configured decimals.
type Formatter struct {
	SourceAsset    string
	TargetAsset    string
	SourceDecimals int32
	TargetDecimals int32
}

// Amount converts base units to a decimal string, e.g. 1_500_000 with 6 decimals is "1.5".
func Amount(v uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals).String()
}

func (f Formatter) source(v uint64) string {
	return Amount(v, f.SourceDecimals) + " " + f.SourceAsset
}

func (f Formatter) target(v uint64) string {
	return Amount(v, f.TargetDecimals) + " " + f.TargetAsset
}

func tick(t uint64) string {
	if t > 1<<63-1 {
		return fmt.Sprintf("%d", t)
	}
	return humanize.Comma(int64(t))
}

// Execution formats a single purchase.
func (f Formatter) Execution(owner string, amount, fee, target, at uint64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🛒 <b>Purchase executed</b> | tick %s\n\n", tick(at)))
	b.WriteString(fmt.Sprintf("Owner: <code>%s</code>\n", html.EscapeString(owner)))
	b.WriteString(fmt.Sprintf("Spent: %s (fee %s)\n", f.source(amount), f.source(fee)))
	b.WriteString(fmt.Sprintf("Bought: %s\n", f.target(target)))
	return b.String()
}

// Sweep formats a keeper sweep summary. Failed owners are listed with their error codes.
func (f Formatter) Sweep(at uint64, due, executed int, failures map[string]string, took time.Duration) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🤖 <b>Keeper sweep</b> | tick %s\n\n", tick(at)))
	b.WriteString(fmt.Sprintf("Due: %d | Executed: %d | Failed: %d\n", due, executed, len(failures)))
	if len(failures) > 0 {
		b.WriteString("\n⚠️ <b>Failures:</b>\n")
		for _, owner := range slices.Sorted(maps.Keys(failures)) {
			b.WriteString(fmt.Sprintf("  <code>%s</code>: %s\n", html.EscapeString(owner), failures[owner]))
		}
	}
	b.WriteString(fmt.Sprintf("\nTook %s", took.Round(time.Millisecond)))
	return b.String()
}

// Stats formats the global counters.
func (f Formatter) Stats(st model.Stats, at uint64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>Plan statistics</b> | tick %s\n\n", tick(at)))
	b.WriteString(fmt.Sprintf("Users: %s\n", tick(st.TotalUsers)))
	b.WriteString(fmt.Sprintf("Source processed: %s\n", f.source(st.TotalSourceProcessed)))
	b.WriteString(fmt.Sprintf("Target purchased: %s\n", f.target(st.TotalTargetPurchased)))
	b.WriteString(fmt.Sprintf("Uncollected fees: %s\n", f.source(st.FeesCollected)))
	return b.String()
}

// Schedule formats one owner's schedule and balance.
func (f Formatter) Schedule(sc model.Schedule, balance, now uint64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📅 <b>Schedule</b> <code>%s</code>\n\n", html.EscapeString(sc.Owner)))
	status := "active"
	if !sc.Active {
		status = "cancelled"
	}
	b.WriteString(fmt.Sprintf("Status: %s\n", status))
	b.WriteString(fmt.Sprintf("Amount: %s every %s ticks\n", f.source(sc.AmountPerPurchase), tick(sc.FrequencyTicks)))
	if sc.Active {
		if now >= sc.NextExecutionTick {
			b.WriteString(fmt.Sprintf("Next: tick %s (due now)\n", tick(sc.NextExecutionTick)))
		} else {
			b.WriteString(fmt.Sprintf("Next: tick %s (in %s ticks)\n", tick(sc.NextExecutionTick), tick(sc.NextExecutionTick-now)))
		}
	}
	b.WriteString(fmt.Sprintf("Balance: %s\n", f.source(balance)))
	b.WriteString(fmt.Sprintf("Deposited: %s\n", f.source(sc.TotalDeposited)))
	b.WriteString(fmt.Sprintf("Purchased: %s\n", f.source(sc.TotalPurchased)))
	b.WriteString(fmt.Sprintf("Accumulated: %s\n", f.target(sc.AccumulatedTarget)))
	return b.String()
}

// Due formats the owners that can execute now.
func (f Formatter) Due(owners []string, at uint64) string {
	if len(owners) == 0 {
		return fmt.Sprintf("⏳ Nothing due at tick %s", tick(at))
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("⏰ <b>%d due</b> at tick %s\n\n", len(owners), tick(at)))
	for _, o := range owners {
		b.WriteString(fmt.Sprintf("  <code>%s</code>\n", html.EscapeString(o)))
	}
	return b.String()
}

// Help lists the bot commands.
func Help() string {
	return "Commands:\n" +
		"/stats - global statistics\n" +
		"/schedule &lt;owner&gt; - one owner's plan\n" +
		"/due - owners ready to execute\n" +
		"/sweep - run a keeper sweep now\n" +
		"/help - this message"
}
