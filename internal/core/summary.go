package core

// Stats aggregates a filtered row-set for the listing view.
type Stats struct {
	TotalRecords       int
	TotalCRC           float64
	TotalUSD           float64
	FacturaAparteCount int
	FacturaAparteCRC   float64
	FacturaAparteUSD   float64
}

// Summarize computes listing aggregates over an already-filtered row-set.
// Currencies outside CRC/USD contribute to the record count only.
func Summarize(rows []Expense) Stats {
	var s Stats
	s.TotalRecords = len(rows)
	for _, e := range rows {
		switch e.Currency {
		case CRC:
			s.TotalCRC += e.Amount
			if e.FacturaAparte {
				s.FacturaAparteCRC += e.Amount
			}
		case USD:
			s.TotalUSD += e.Amount
			if e.FacturaAparte {
				s.FacturaAparteUSD += e.Amount
			}
		}
		if e.FacturaAparte {
			s.FacturaAparteCount++
		}
	}
	return s
}
