package models

import "github.com/btcsuite/btcd/btcutil"

// ToMinorUnits converts a floating-point native-token amount (as the pool
// and pricing formulas in the spec express them) into the integer minor
// units AccountState.Balance is denominated in. It reuses btcutil.Amount's
// float64-to-int64 rounding and range checking rather than hand-rolling it.
func ToMinorUnits(amount float64) (int64, error) {
	a, err := btcutil.NewAmount(amount)
	if err != nil {
		return 0, err
	}
	return int64(a), nil
}
