// Package bill holds the receipt data model and the settlement calculator.
package bill

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidItem    = errors.New("invalid receipt item")
	ErrInvalidReceipt = errors.New("invalid receipt")
)

// Person is a participant on the current bill.
type Person struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Item is a single line on a receipt. Price is the final, post-discount amount.
type Item struct {
	ID            string           `json:"id"`
	Description   string           `json:"description"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
	// AssignedTo holds person IDs in the order they were added.
	AssignedTo []string `json:"assigned_to"`
}

// Receipt is one itemized bill, possibly merged from several scans.
type Receipt struct {
	Title    string          `json:"title,omitempty"`
	Items    []Item          `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Tip      decimal.Decimal `json:"tip"`
	Total    decimal.Decimal `json:"total"`
}

// SavedGroup is a named, detached snapshot of a roster.
type SavedGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	People    []Person  `json:"people"`
	CreatedAt time.Time `json:"created_at"`
}

// Preferences is the per-user settings document.
type Preferences struct {
	DefaultGroupID string `json:"default_group_id,omitempty"`
}

// NewItem validates and builds an unassigned item.
func NewItem(description string, price decimal.Decimal, originalPrice, discount *decimal.Decimal) (Item, error) {
	item := Item{
		ID:            uuid.NewString(),
		Description:   strings.TrimSpace(description),
		Price:         price,
		OriginalPrice: originalPrice,
		Discount:      discount,
		AssignedTo:    []string{},
	}
	if err := item.Validate(); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Validate checks the item's description, amounts and discount arithmetic.
func (i Item) Validate() error {
	if strings.TrimSpace(i.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidItem)
	}
	if i.Price.IsNegative() {
		return fmt.Errorf("%w: %q has negative price %s", ErrInvalidItem, i.Description, i.Price)
	}
	if i.Discount != nil && i.Discount.IsNegative() {
		return fmt.Errorf("%w: %q has negative discount %s", ErrInvalidItem, i.Description, i.Discount)
	}
	if i.OriginalPrice != nil && i.OriginalPrice.IsNegative() {
		return fmt.Errorf("%w: %q has negative original price %s", ErrInvalidItem, i.Description, i.OriginalPrice)
	}
	if i.OriginalPrice != nil && i.Discount != nil {
		want := i.OriginalPrice.Sub(*i.Discount)
		if !within(i.Price, want) {
			return fmt.Errorf("%w: %q price %s does not equal %s - %s",
				ErrInvalidItem, i.Description, i.Price, i.OriginalPrice, i.Discount)
		}
	}
	return nil
}

// NewReceipt builds a receipt whose subtotal and total are derived from its
// items, tax and tip, so both invariants hold by construction.
func NewReceipt(title string, items []Item, tax, tip decimal.Decimal) (*Receipt, error) {
	if tax.IsNegative() || tip.IsNegative() {
		return nil, fmt.Errorf("%w: tax and tip must not be negative", ErrInvalidReceipt)
	}
	subtotal := decimal.Zero
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return nil, err
		}
		subtotal = subtotal.Add(item.Price)
	}
	r := &Receipt{
		Title:    strings.TrimSpace(title),
		Items:    items,
		Subtotal: subtotal,
		Tax:      tax,
		Tip:      tip,
		Total:    subtotal.Add(tax).Add(tip),
	}
	return r, nil
}

// Validate checks a receipt built elsewhere, e.g. submitted by a client.
func (r *Receipt) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: missing receipt", ErrInvalidReceipt)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidReceipt)
	}
	for _, amount := range []decimal.Decimal{r.Subtotal, r.Tax, r.Tip, r.Total} {
		if amount.IsNegative() {
			return fmt.Errorf("%w: negative amount %s", ErrInvalidReceipt, amount)
		}
	}
	sum := decimal.Zero
	seen := make(map[string]bool, len(r.Items))
	for _, item := range r.Items {
		if err := item.Validate(); err != nil {
			return err
		}
		if item.ID == "" || seen[item.ID] {
			return fmt.Errorf("%w: item ids must be unique and non-empty", ErrInvalidReceipt)
		}
		seen[item.ID] = true
		sum = sum.Add(item.Price)
	}
	if !within(r.Subtotal, sum) {
		return fmt.Errorf("%w: subtotal %s does not match items %s", ErrInvalidReceipt, r.Subtotal, sum)
	}
	if !within(r.Total, r.Subtotal.Add(r.Tax).Add(r.Tip)) {
		return fmt.Errorf("%w: total %s does not equal subtotal + tax + tip", ErrInvalidReceipt, r.Total)
	}
	return nil
}

// Merge combines receipts scanned from several images into one. Items keep
// their order, tax and tip are summed, and subtotal/total are recomputed.
func Merge(title string, parts ...*Receipt) (*Receipt, error) {
	var items []Item
	tax, tip := decimal.Zero, decimal.Zero
	for _, p := range parts {
		if p == nil {
			continue
		}
		items = append(items, p.Items...)
		tax = tax.Add(p.Tax)
		tip = tip.Add(p.Tip)
		if title == "" {
			title = p.Title
		}
	}
	return NewReceipt(title, items, tax, tip)
}

// IsFullyAssigned reports whether every item has at least one assignee.
func (r *Receipt) IsFullyAssigned() bool {
	if r == nil {
		return false
	}
	for _, item := range r.Items {
		if len(item.AssignedTo) == 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so snapshots never share assignment slices.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	c := *r
	c.Items = make([]Item, len(r.Items))
	for i, item := range r.Items {
		item.AssignedTo = append([]string{}, item.AssignedTo...)
		c.Items[i] = item
	}
	return &c
}
