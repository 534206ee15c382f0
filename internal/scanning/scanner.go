package scanning

import (
	"context"
	"errors"

	"github.com/billsplit/billsplit/internal/bill"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotReceipt is matched by every *RejectedError.
	ErrNotReceipt = errors.New("not a receipt")
	// ErrNoItems is returned when extraction produced no usable line items.
	ErrNoItems = errors.New("no items found on receipt")
)

// RejectedError is returned when the model decides the image is not a receipt.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Is(target error) bool { return target == ErrNotReceipt }

const rejectedMessage = "This doesn't appear to be a receipt or bill. Please scan a valid receipt."

// ItemData is one validated line item extracted from an image.
type ItemData struct {
	Description   string           `json:"description"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Discount      *decimal.Decimal `json:"discount,omitempty"`
}

// ReceiptData contains extracted information from a receipt
type ReceiptData struct {
	Items    []ItemData      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Tip      decimal.Decimal `json:"tip"`
	Total    decimal.Decimal `json:"total"`
}

// ToReceipt converts the extracted data into an unassigned receipt. Subtotal
// and total are recomputed from the items, tax and tip.
func (d *ReceiptData) ToReceipt() (*bill.Receipt, error) {
	items := make([]bill.Item, 0, len(d.Items))
	for _, it := range d.Items {
		item, err := bill.NewItem(it.Description, it.Price, it.OriginalPrice, it.Discount)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return bill.NewReceipt("", items, d.Tax, d.Tip)
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts its line items
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
