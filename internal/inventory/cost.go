package inventory

import "github.com/shopspring/decimal"

// CostScale is the number of decimal places kept on the running average.
const CostScale = 4

// WeightedAverage folds newly received unit costs into a running average.
// prevQty counts every unit ever averaged in; sales and deletions never lower
// it.
func WeightedAverage(prevAvg decimal.Decimal, prevQty int64, costs []decimal.Decimal) (decimal.Decimal, int64) {
	if len(costs) == 0 {
		return prevAvg, prevQty
	}
	if prevQty < 0 {
		prevQty = 0
	}
	total := prevAvg.Mul(decimal.NewFromInt(prevQty))
	for _, c := range costs {
		total = total.Add(c)
	}
	qty := prevQty + int64(len(costs))
	return total.DivRound(decimal.NewFromInt(qty), CostScale), qty
}
