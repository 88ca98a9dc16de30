package valuation

import (
	"fmt"
	"strings"
	"time"

	"github.com/tindesk/pnl-engine/internal/period"
)

// MissingPrice identifies one unpriceable open position: the contract month
// it delivers into and the tenor the curve lookup required.
type MissingPrice struct {
	ContractMonth period.Month `json:"contract_month"`
	TenorMonths   int          `json:"tenor_months"`
}

// MissingCurveDataError aborts a valuation run when any open trade's tenor
// has no stored price. Partial valuation is not permitted — an incomplete
// PnL figure is worse than an explicit failure — so the error enumerates
// every missing pair and nothing is persisted.
type MissingCurveDataError struct {
	AsOf    time.Time
	Missing []MissingPrice
}

func (e *MissingCurveDataError) Error() string {
	pairs := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		pairs[i] = fmt.Sprintf("%s (%dM)", m.ContractMonth.Token(), m.TenorMonths)
	}
	return fmt.Sprintf("valuation: missing curve data as of %s: %s",
		e.AsOf.Format("2006-01-02"), strings.Join(pairs, ", "))
}
