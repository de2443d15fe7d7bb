package adviser

import (
	"sort"
	"time"

	"mm-quote-bot/internal/trading"

	"github.com/shopspring/decimal"
)

type lot struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// recentExecutions keeps the usable executions inside [from, to], ordered by
// time. Executions sharing a timestamp keep their listed order.
func recentExecutions(execs []trading.Execution, from, to time.Time) []trading.Execution {
	out := make([]trading.Execution, 0, len(execs))
	for _, exec := range execs {
		if exec.Time.IsZero() || exec.Time.Before(from) || exec.Time.After(to) {
			continue
		}
		if exec.Price.IsZero() || exec.Size.IsZero() {
			continue
		}
		out = append(out, exec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// netExecutions applies FIFO netting: each execution first offsets the oldest
// opposite-signed lots, and any remainder opens a new lot at its own price.
// All surviving lots therefore share one sign.
func netExecutions(execs []trading.Execution) []lot {
	var lots []lot
	for _, exec := range execs {
		size := exec.Size
		removed := 0
		for removed < len(lots) && !size.IsZero() {
			open := lots[removed].size
			if open.Sign() == size.Sign() {
				break
			}
			total := open.Add(size)
			if total.Sign() == open.Sign() {
				lots[removed].size = total
				size = decimal.Zero
				break
			}
			removed++
			size = total
		}
		lots = lots[removed:]
		if size.IsZero() {
			continue
		}
		lots = append(lots, lot{price: exec.Price, size: size})
	}
	return lots
}
