package settlement

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

// satsPerBTC is the number of satoshis in one bitcoin.
var satsPerBTC = decimal.NewFromInt(btcutil.SatoshiPerBitcoin)

// SatsFromFiat converts a fiat total into satoshis at rate fiat units per
// BTC. Fractions of a satoshi are truncated.
func SatsFromFiat(total decimal.Decimal, rate float64) (btcutil.Amount,
	error) {

	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}

	sats := total.Mul(satsPerBTC).Div(decimal.NewFromFloat(rate)).
		Truncate(0)
	if !sats.IsPositive() {
		return 0, fmt.Errorf("%w: %s at %v", ErrZeroAmount, total, rate)
	}

	return btcutil.Amount(sats.IntPart()), nil
}
