package bill

import (
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Settle", func() {
	var (
		alice, bob, carol Person
		people            []Person
		receipt           *Receipt
		settlement        *Settlement
		err               error
	)

	assign := func(i int, ids ...string) {
		receipt.Items[i].AssignedTo = ids
	}

	BeforeEach(func() {
		alice = Person{ID: "a", Name: "Alice"}
		bob = Person{ID: "b", Name: "Bob"}
		carol = Person{ID: "c", Name: "Carol"}
		people = []Person{alice, bob}
	})

	JustBeforeEach(func() {
		settlement, err = Settle(receipt, people, "USD")
	})

	When("two people share every item", func() {
		BeforeEach(func() {
			receipt, err = NewReceipt("", []Item{mustItem("Pizza", "20.00"), mustItem("Salad", "10.00")}, d("3.00"), d("6.00"))
			Expect(err).NotTo(HaveOccurred())
			assign(0, "a", "b")
			assign(1, "a", "b")
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should give each person 19.50 before rounding", func() {
			for _, s := range settlement.Shares {
				Expect(s.Exact.Equal(d("19.50"))).To(BeTrue(), s.Exact.String())
			}
		})

		It("should stay within two cents of the total after rounding", func() {
			Expect(settlement.Drift.Abs().LessThanOrEqual(d("0.02"))).To(BeTrue())
		})

		It("should format the display amount", func() {
			Expect(settlement.Shares[0].Display).To(Equal("$19.50"))
		})
	})

	When("an item has a single assignee", func() {
		BeforeEach(func() {
			receipt, _ = NewReceipt("", []Item{mustItem("Steak", "10.00")}, d("0"), d("0"))
			assign(0, "a")
		})

		It("should charge that person the full price", func() {
			Expect(settlement.Shares[0].ItemSubtotal.Equal(d("10.00"))).To(BeTrue())
		})

		It("should charge nobody else", func() {
			Expect(settlement.Shares[1].ItemSubtotal.IsZero()).To(BeTrue())
			Expect(settlement.Shares[1].TotalOwed.IsZero()).To(BeTrue())
			Expect(settlement.Shares[1].Items).To(BeEmpty())
		})
	})

	When("an item is shared three ways", func() {
		BeforeEach(func() {
			people = []Person{alice, bob, carol}
			receipt, _ = NewReceipt("", []Item{mustItem("Nachos", "9.00")}, d("0"), d("0"))
			assign(0, "a", "b", "c")
		})

		It("should give each person exactly 3.00", func() {
			for _, s := range settlement.Shares {
				Expect(s.ItemSubtotal.Equal(d("3.00"))).To(BeTrue())
			}
		})
	})

	When("tax and tip do not divide evenly", func() {
		BeforeEach(func() {
			people = []Person{alice, bob, carol}
			receipt, _ = NewReceipt("", []Item{mustItem("Wine", "10.00")}, d("1.00"), d("1.00"))
			assign(0, "a", "b", "c")
		})

		It("should keep the unrounded sum within a cent of the total", func() {
			sum := decimal.Zero
			for _, s := range settlement.Shares {
				sum = sum.Add(s.Exact)
			}
			Expect(sum.Sub(receipt.Total).Abs().LessThanOrEqual(d("0.01"))).To(BeTrue())
		})

		It("should round each share half up to cents", func() {
			for _, s := range settlement.Shares {
				Expect(s.TotalOwed.Equal(d("4.00"))).To(BeTrue(), s.TotalOwed.String())
			}
		})

		It("should report the rounding residue instead of redistributing it", func() {
			Expect(settlement.Sum.Equal(d("12.00"))).To(BeTrue())
			Expect(settlement.Drift.Equal(d("0"))).To(BeTrue())
		})
	})

	When("the subtotal is zero", func() {
		BeforeEach(func() {
			receipt, _ = NewReceipt("", []Item{mustItem("Free water", "0")}, d("1.00"), d("2.00"))
			assign(0, "a", "b")
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should give everyone zero tax and tip", func() {
			for _, s := range settlement.Shares {
				Expect(s.TaxShare.IsZero()).To(BeTrue())
				Expect(s.TipShare.IsZero()).To(BeTrue())
			}
		})
	})

	When("proration is uneven", func() {
		BeforeEach(func() {
			receipt, _ = NewReceipt("", []Item{mustItem("Pizza", "20.00"), mustItem("Salad", "10.00")}, d("3.00"), d("0"))
			assign(0, "a", "b")
			assign(1, "a")
		})

		It("should prorate tax by subtotal fraction", func() {
			Expect(settlement.Shares[0].TaxShare.Equal(d("2"))).To(BeTrue())
			Expect(settlement.Shares[0].TotalOwed.Equal(d("22.00"))).To(BeTrue())
			Expect(settlement.Shares[1].TotalOwed.Equal(d("11.00"))).To(BeTrue())
		})

		It("should follow roster order", func() {
			Expect(settlement.Shares[0].Person.ID).To(Equal("a"))
			Expect(settlement.Shares[1].Person.ID).To(Equal("b"))
		})

		It("should list each person's items", func() {
			Expect(settlement.Shares[0].Items).To(HaveLen(2))
			Expect(settlement.Shares[1].Items).To(HaveLen(1))
			Expect(settlement.Shares[1].Items[0].Amount.Equal(d("10"))).To(BeTrue())
		})
	})

	When("an item is unassigned", func() {
		BeforeEach(func() {
			receipt, _ = NewReceipt("", []Item{mustItem("A", "1"), mustItem("B", "2")}, d("0"), d("0"))
			assign(0, "a")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ErrAssignmentNotReady))
		})
	})

	When("the roster is empty", func() {
		BeforeEach(func() {
			people = nil
			receipt, _ = NewReceipt("", []Item{mustItem("A", "1")}, d("0"), d("0"))
			assign(0, "a")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ErrAssignmentNotReady))
		})
	})

	When("an item is assigned to someone outside the roster", func() {
		BeforeEach(func() {
			receipt, _ = NewReceipt("", []Item{mustItem("A", "1")}, d("0"), d("0"))
			assign(0, "zzz")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ErrUnknownReference))
		})
	})
})
