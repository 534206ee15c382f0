package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/billsplit/billsplit/internal/bill"
	"golang.org/x/sync/errgroup"
)

// Policy decides what happens when one image in a batch fails.
type Policy string

const (
	// FailFast aborts the batch on the first failure.
	FailFast Policy = "fail-fast"
	// BestEffort skips failed images and merges the rest.
	BestEffort Policy = "best-effort"
)

// DefaultConcurrency is the number of images scanned at once.
const DefaultConcurrency = 4

// ParsePolicy maps a flag value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailFast:
		return FailFast, nil
	case BestEffort:
		return BestEffort, nil
	}
	return "", fmt.Errorf("unknown scan policy %q", s)
}

// Image is one uploaded file in a batch.
type Image struct {
	Name        string
	Data        []byte
	ContentType string
}

// Batch scans several images of one bill concurrently and merges them.
type Batch struct {
	Scanner     Scanner
	Policy      Policy
	Concurrency int
}

// Scan extracts every image and merges the results into one receipt, in
// upload order. Under FailFast the first error cancels the remaining scans.
func (b *Batch) Scan(ctx context.Context, images []Image) (*bill.Receipt, error) {
	if len(images) == 0 {
		return nil, ErrNoItems
	}
	limit := b.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]*bill.Receipt, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, img := range images {
		g.Go(func() error {
			r, err := b.scanOne(gctx, img)
			if err == nil {
				results[i] = r
				return nil
			}
			if b.Policy == BestEffort {
				slog.Warn("Skipping image that failed to scan", "image", img.Name, "error", err)
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Pages without items still carry tax and tip, e.g. the last photo of a
	// long receipt.
	merged, err := bill.Merge("", results...)
	if err != nil {
		return nil, err
	}
	if len(merged.Items) == 0 {
		return nil, ErrNoItems
	}
	return merged, nil
}

func (b *Batch) scanOne(ctx context.Context, img Image) (*bill.Receipt, error) {
	data, err := b.Scanner.ScanReceipt(ctx, img.Data, img.ContentType)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", img.Name, err)
	}
	r, err := data.ToReceipt()
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", img.Name, err)
	}
	return r, nil
}
