package domain

import "github.com/shopspring/decimal"

// Money is a decimal monetary amount. Order totals use shopspring/decimal
// instead of float64 to avoid the rounding drift that accumulates in
// binary floating point across repeated addition.
type Money = decimal.Decimal

// ZeroMoney returns the additive identity.
func ZeroMoney() Money {
	return decimal.Zero
}

func moneyFromInt(n int) Money {
	return decimal.NewFromInt(int64(n))
}
