package scanning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/billsplit/billsplit/internal/bill"
	"github.com/shopspring/decimal"
)

// rawReceipt mirrors the model's JSON loosely so one bad field does not
// fail the whole response.
type rawReceipt struct {
	IsReceipt *bool     `json:"isReceipt"`
	Items     []rawItem `json:"items"`
	Subtotal  any       `json:"subtotal"`
	Tax       any       `json:"tax"`
	Tip       any       `json:"tip"`
	Total     any       `json:"total"`
}

type rawItem struct {
	Description   any `json:"description"`
	Price         any `json:"price"`
	OriginalPrice any `json:"originalPrice"`
	Discount      any `json:"discount"`
}

// cleanResponse strips markdown fences and anything outside the outermost
// JSON object.
func cleanResponse(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseReceiptJSON parses the model's JSON response into validated data.
// Items without a description or with a missing or negative price are
// dropped and logged.
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text, err := cleanResponse(text)
	if err != nil {
		return nil, err
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	if raw.IsReceipt != nil && !*raw.IsReceipt {
		return nil, &RejectedError{Message: rejectedMessage}
	}

	data := &ReceiptData{
		Items:    []ItemData{},
		Subtotal: amountOrZero(raw.Subtotal),
		Tax:      amountOrZero(raw.Tax),
		Tip:      amountOrZero(raw.Tip),
		Total:    amountOrZero(raw.Total),
	}

	for i, ri := range raw.Items {
		item, reason := toItem(ri)
		if reason != "" {
			slog.Debug("Dropping extracted item", "index", i, "reason", reason)
			continue
		}
		data.Items = append(data.Items, item)
	}

	return data, nil
}

func toItem(ri rawItem) (ItemData, string) {
	desc, _ := ri.Description.(string)
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return ItemData{}, "missing description"
	}
	price, ok := amount(ri.Price)
	if !ok || price.IsNegative() {
		return ItemData{}, "invalid price"
	}
	item := ItemData{Description: desc, Price: price}
	// Zero or missing values mean no discount.
	if v, ok := amount(ri.OriginalPrice); ok && !v.IsZero() {
		item.OriginalPrice = &v
	}
	if v, ok := amount(ri.Discount); ok && !v.IsZero() {
		item.Discount = &v
	}
	if err := (bill.Item{Description: desc, Price: price, OriginalPrice: item.OriginalPrice, Discount: item.Discount}).Validate(); err != nil {
		return ItemData{}, err.Error()
	}
	return item, ""
}

// amount accepts only JSON numbers and rounds them to cents.
func amount(v any) (decimal.Decimal, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return bill.Cents(f), true
}

func amountOrZero(v any) decimal.Decimal {
	d, ok := amount(v)
	if !ok || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
