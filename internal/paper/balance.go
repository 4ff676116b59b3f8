package paper

import (
	"github.com/yanun0323/errors"

	"main/internal/config"
)

var ErrBadSizing = errors.New("paper: sizing parameters must be > 0")

// EffectiveMinCost is the smallest notional an exchange will accept for one
// order: the larger of the quantity floor at the given price and the stated
// minimum cost.
func EffectiveMinCost(minQty, price, contractSize, minCost float64) float64 {
	v := minQty * price * contractSize
	if minCost > v {
		v = minCost
	}
	return v
}

// RequiredBalance returns the smallest wallet that can place a parameter
// set's initial entry:
//
//	wallet_exposure_per_position = total_wallet_exposure_limit / n_positions
//	required_balance = effective_min_cost / (wallet_exposure_per_position * entry_initial_qty_pct)
func RequiredBalance(params config.Params, effectiveMinCost float64) (float64, error) {
	if params.NPositions <= 0 || params.TotalWalletExposureLimit <= 0 || params.EntryInitialQtyPct <= 0 {
		return 0, ErrBadSizing
	}
	wep := params.TotalWalletExposureLimit / params.NPositions
	return effectiveMinCost / (wep * params.EntryInitialQtyPct), nil
}
