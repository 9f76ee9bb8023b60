package domain

import "github.com/shopspring/decimal"

// Round rounds a monetary amount to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

type Quote struct {
	Subtotal       decimal.Decimal
	GST            decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
}

// PreDiscount is the amount coupons are validated and computed against.
func (q Quote) PreDiscount() decimal.Decimal {
	return q.Subtotal.Add(q.GST)
}

// PriceItems computes subtotal and gst for the items with no discount.
func PriceItems(items []LineItem, gstRate decimal.Decimal) Quote {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	subtotal = Round(subtotal)
	gst := Round(subtotal.Mul(gstRate))
	return Quote{
		Subtotal:       subtotal,
		GST:            gst,
		DiscountAmount: decimal.Zero,
		Total:          subtotal.Add(gst),
	}
}

// WithDiscount returns the quote with coupon's discount applied.
func (q Quote) WithDiscount(c *Coupon) Quote {
	if c == nil {
		return q
	}
	q.DiscountAmount = c.DiscountFor(q.PreDiscount())
	q.Total = q.PreDiscount().Sub(q.DiscountAmount)
	return q
}
