package pricing

import "github.com/shopspring/decimal"

// Line is one cart line to be priced
type Line struct {
	TicketTypeID int64
	Base         decimal.Decimal
	Quantity     int
}

// QuotedLine is a priced cart line
type QuotedLine struct {
	TicketTypeID int64           `json:"ticket_type_id"`
	Quantity     int             `json:"quantity"`
	Fees         LineFees        `json:"unit"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

// Quote aggregates a cart. Total is the sum of rounded unit gross times quantity,
// which is exactly what the gateway will charge.
type Quote struct {
	Lines        []QuotedLine    `json:"lines"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	PartnerFee   decimal.Decimal `json:"partner_fee"`
	ProcessorFee decimal.Decimal `json:"processor_fee"`
	Total        decimal.Decimal `json:"total"`
}

// QuoteLines prices every line with the same discount
func QuoteLines(lines []Line, discount *Discount, rates Rates) Quote {
	q := Quote{
		Lines:        make([]QuotedLine, 0, len(lines)),
		Subtotal:     decimal.Zero,
		PlatformFee:  decimal.Zero,
		PartnerFee:   decimal.Zero,
		ProcessorFee: decimal.Zero,
		Total:        decimal.Zero,
	}

	for _, l := range lines {
		fees := ComputeLineFees(l.Base, discount, rates)
		qty := decimal.NewFromInt(int64(l.Quantity))
		lineTotal := fees.GrossUnitTotal.Mul(qty)

		q.Lines = append(q.Lines, QuotedLine{
			TicketTypeID: l.TicketTypeID,
			Quantity:     l.Quantity,
			Fees:         fees,
			LineTotal:    lineTotal,
		})

		q.Subtotal = q.Subtotal.Add(fees.Base.Mul(qty))
		q.PlatformFee = q.PlatformFee.Add(fees.PlatformFee.Mul(qty))
		q.PartnerFee = q.PartnerFee.Add(fees.PartnerFee.Mul(qty))
		q.ProcessorFee = q.ProcessorFee.Add(fees.ProcessorMarkup.Mul(qty))
		q.Total = q.Total.Add(lineTotal)
	}

	return q
}
