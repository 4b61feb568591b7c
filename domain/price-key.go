package domain

import "github.com/shopspring/decimal"

// DefaultPriceScale is the number of decimal digits preserved by a PriceRoundKey.
const DefaultPriceScale int32 = 8

// PriceRoundKey is an integer-encoded price level: the price shifted by the
// book's scale and rounded. Keys compare and hash by their integer form, so two
// equal keys always display the same price.
type PriceRoundKey int64

func NewPriceRoundKey(price decimal.Decimal, scale int32) PriceRoundKey {
	return PriceRoundKey(price.Shift(scale).Round(0).IntPart())
}

// Price decodes the key back to its displayed price.
func (k PriceRoundKey) Price(scale int32) decimal.Decimal {
	return decimal.New(int64(k), -scale)
}
