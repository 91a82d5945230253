package pkg

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

func Uint64ToBytes(num uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, num)
	return b
}

func BytesToUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("input byte slice should have length 8, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// ParseAmount accepts a positive whole number of base units that fits uint64.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("invalid amount %q: must be a whole number", s)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("invalid amount %q: must be positive", s)
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("invalid amount %q: out of range", s)
	}
	return bi.Uint64(), nil
}

// FormatAmount renders base units, shifted by decimals places when non-zero.
func FormatAmount(amount uint64, decimals int32) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0)
	if decimals <= 0 {
		return d.String()
	}
	return d.Shift(-decimals).StringFixed(decimals)
}
