package bill

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAssignmentNotReady is returned when some item has no assignee or the
	// roster is empty.
	ErrAssignmentNotReady = errors.New("assignment not ready")
	// ErrUnknownReference is returned when an id does not exist in the current state.
	ErrUnknownReference = errors.New("unknown reference")
)

// ShareItem is one person's portion of a single item.
type ShareItem struct {
	ItemID      string          `json:"item_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Share is what one person owes.
type Share struct {
	Person       Person          `json:"person"`
	ItemSubtotal decimal.Decimal `json:"item_subtotal"`
	TaxShare     decimal.Decimal `json:"tax_share"`
	TipShare     decimal.Decimal `json:"tip_share"`
	// Exact is the unrounded total; TotalOwed is Exact rounded half-up.
	Exact     decimal.Decimal `json:"exact"`
	TotalOwed decimal.Decimal `json:"total_owed"`
	Display   string          `json:"display"`
	Items     []ShareItem     `json:"items"`
}

// Settlement is the result of splitting a receipt.
//
// Shares are rounded individually and the rounding residue is reported as
// Drift rather than pushed onto anyone's total. With n people Drift is at
// most n half-cents in either direction.
type Settlement struct {
	Currency string          `json:"currency"`
	Shares   []Share         `json:"shares"`
	Total    decimal.Decimal `json:"total"`
	Sum      decimal.Decimal `json:"sum"`
	Drift    decimal.Decimal `json:"drift"`
}

// Settle computes each person's share of the receipt. Item prices are split
// evenly among their assignees; tax and tip are prorated by each person's
// fraction of the subtotal. Shares follow roster order.
func Settle(r *Receipt, people []Person, currency string) (*Settlement, error) {
	if len(people) == 0 {
		return nil, fmt.Errorf("%w: roster is empty", ErrAssignmentNotReady)
	}
	if !r.IsFullyAssigned() {
		return nil, fmt.Errorf("%w: some items are unassigned", ErrAssignmentNotReady)
	}
	currency = currencyCode(currency)

	index := make(map[string]int, len(people))
	shares := make([]Share, len(people))
	for i, p := range people {
		index[p.ID] = i
		shares[i] = Share{Person: p, Items: []ShareItem{}}
	}

	for _, item := range r.Items {
		portion := item.Price.Div(decimal.NewFromInt(int64(len(item.AssignedTo))))
		for _, id := range item.AssignedTo {
			i, ok := index[id]
			if !ok {
				return nil, fmt.Errorf("%w: item %q is assigned to %s", ErrUnknownReference, item.Description, id)
			}
			shares[i].ItemSubtotal = shares[i].ItemSubtotal.Add(portion)
			shares[i].Items = append(shares[i].Items, ShareItem{
				ItemID:      item.ID,
				Description: item.Description,
				Amount:      portion,
			})
		}
	}

	s := &Settlement{Currency: currency, Total: r.Total, Shares: shares}
	for i := range shares {
		sh := &shares[i]
		// A zero subtotal (every item free) leaves tax and tip unallocated.
		if !r.Subtotal.IsZero() {
			fraction := sh.ItemSubtotal.Div(r.Subtotal)
			sh.TaxShare = fraction.Mul(r.Tax)
			sh.TipShare = fraction.Mul(r.Tip)
		}
		sh.Exact = sh.ItemSubtotal.Add(sh.TaxShare).Add(sh.TipShare)
		sh.TotalOwed = RoundCurrency(sh.Exact, currency)
		sh.Display = Display(sh.TotalOwed, currency)
		s.Sum = s.Sum.Add(sh.TotalOwed)
	}
	s.Drift = s.Sum.Sub(s.Total)
	return s, nil
}
