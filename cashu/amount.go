package cashu

import (
	"errors"
	"fmt"
)

var ErrUnsupportedDenomination = errors.New("denomination not supported by keyset")

// Given an amount, it returns list of amounts e.g 13 -> [1, 4, 8]
// that can be used to build blinded messages or split operations.
// from nutshell implementation
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

// AmountSplitForKeys is AmountSplit but it fails if any of
// the resulting denominations has no key in the keyset.
func AmountSplitForKeys[K any](amount uint64, keys map[uint64]K) ([]uint64, error) {
	amounts := AmountSplit(amount)
	for _, amt := range amounts {
		if _, ok := keys[amt]; !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedDenomination, amt)
		}
	}
	return amounts, nil
}

func IsPowerOfTwo(amount uint64) bool {
	return amount != 0 && amount&(amount-1) == 0
}

func overflowAddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, true
	}
	return sum, false
}

// SumAmounts adds the amounts and reports an error on overflow.
func SumAmounts(amounts ...uint64) (uint64, error) {
	var total uint64
	for _, amount := range amounts {
		var overflow bool
		total, overflow = overflowAddUint64(total, amount)
		if overflow {
			return 0, errors.New("amount overflows uint64")
		}
	}
	return total, nil
}
