package scanning

import (
	"context"
	"errors"
	"sync"

	"github.com/billsplit/billsplit/internal/bill"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type mockScanner struct {
	mu      sync.Mutex
	results map[string]*ReceiptData
	errs    map[string]error
	calls   int
}

func (m *mockScanner) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	key := string(imageData)
	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	return m.results[key], nil
}

func (m *mockScanner) Close() error { return nil }

var _ = Describe("Batch", func() {
	var (
		scanner *mockScanner
		batch   *Batch
		images  []Image
		receipt *bill.Receipt
		err     error
	)

	BeforeEach(func() {
		scanner = &mockScanner{
			results: map[string]*ReceiptData{
				"one": {Items: []ItemData{{Description: "A", Price: dec("5")}, {Description: "B", Price: dec("10")}}, Tax: dec("1"), Tip: dec("2")},
				"two": {Items: []ItemData{{Description: "C", Price: dec("20")}}, Tax: dec("1.5"), Tip: dec("3")},
				"empty": {Items: []ItemData{}},
				"mains": {Items: []ItemData{{Description: "A", Price: dec("30")}}},
				"totals": {Items: []ItemData{}, Tax: dec("3"), Tip: dec("6")},
			},
			errs: map[string]error{
				"cat": &RejectedError{Message: rejectedMessage},
			},
		}
		batch = &Batch{Scanner: scanner, Policy: FailFast}
		images = []Image{{Name: "one.jpg", Data: []byte("one")}, {Name: "two.jpg", Data: []byte("two")}}
	})

	JustBeforeEach(func() {
		receipt, err = batch.Scan(context.Background(), images)
	})

	When("every image scans", func() {
		It("should merge the receipts", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(receipt.Items).To(HaveLen(3))
			Expect(receipt.Subtotal.Equal(dec("35"))).To(BeTrue())
			Expect(receipt.Tax.Equal(dec("2.5"))).To(BeTrue())
			Expect(receipt.Tip.Equal(dec("5"))).To(BeTrue())
			Expect(receipt.Total.Equal(dec("42.5"))).To(BeTrue())
		})

		It("should keep upload order", func() {
			Expect(receipt.Items[0].Description).To(Equal("A"))
			Expect(receipt.Items[2].Description).To(Equal("C"))
		})
	})

	When("one image is rejected", func() {
		BeforeEach(func() {
			images = append(images, Image{Name: "cat.jpg", Data: []byte("cat")})
		})

		It("fails the whole batch", func() {
			Expect(err).To(MatchError(ErrNotReceipt))
			Expect(receipt).To(BeNil())
		})

		When("the policy is best effort", func() {
			BeforeEach(func() {
				batch.Policy = BestEffort
			})

			It("should merge the rest", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(receipt.Items).To(HaveLen(3))
			})
		})
	})

	When("an image has no items", func() {
		BeforeEach(func() {
			images = []Image{{Name: "empty.jpg", Data: []byte("empty")}}
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ErrNoItems))
		})
	})

	When("one page only shows the totals", func() {
		BeforeEach(func() {
			images = []Image{{Name: "mains.jpg", Data: []byte("mains")}, {Name: "totals.jpg", Data: []byte("totals")}}
		})

		It("should keep its tax and tip", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(receipt.Items).To(HaveLen(1))
			Expect(receipt.Subtotal.Equal(dec("30"))).To(BeTrue())
			Expect(receipt.Tax.Equal(dec("3"))).To(BeTrue())
			Expect(receipt.Tip.Equal(dec("6"))).To(BeTrue())
			Expect(receipt.Total.Equal(dec("39"))).To(BeTrue())
		})

		When("the policy is best effort", func() {
			BeforeEach(func() {
				batch.Policy = BestEffort
			})

			It("should keep its tax and tip", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(receipt.Total.Equal(dec("39"))).To(BeTrue())
			})
		})
	})

	When("every image fails under best effort", func() {
		BeforeEach(func() {
			batch.Policy = BestEffort
			images = []Image{{Name: "cat.jpg", Data: []byte("cat")}}
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ErrNoItems))
		})
	})

	When("the scanner fails", func() {
		BeforeEach(func() {
			scanner.errs["one"] = errors.New("boom")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("boom")))
		})
	})

	When("there are no images", func() {
		BeforeEach(func() {
			images = nil
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ErrNoItems))
			Expect(scanner.calls).To(Equal(0))
		})
	})
})

var _ = Describe("ParsePolicy", func() {
	It("should default to fail fast", func() {
		Expect(ParsePolicy("")).To(Equal(FailFast))
	})

	It("should accept best effort", func() {
		Expect(ParsePolicy("Best-Effort")).To(Equal(BestEffort))
	})

	It("should reject unknown values", func() {
		_, err := ParsePolicy("sometimes")
		Expect(err).To(HaveOccurred())
	})
})
