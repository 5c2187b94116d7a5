package ratio

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Energy factors in kcal per gram
const (
	CarbKcalPerGram    = 4
	ProteinKcalPerGram = 4
	FatKcalPerGram     = 9
)

var hundred = decimal.NewFromInt(100)

// Calculate converts macro grams into a calorie ratio that sums to exactly 100.
// Negative and NaN inputs count as zero.
func Calculate(carbG, proteinG, fatG float64) Triple {
	return distribute([3]decimal.Decimal{
		grams(carbG).Mul(decimal.NewFromInt(CarbKcalPerGram)),
		grams(proteinG).Mul(decimal.NewFromInt(ProteinKcalPerGram)),
		grams(fatG).Mul(decimal.NewFromInt(FatKcalPerGram)),
	})
}

// FromCalories applies the same distribution to macro calories directly
func FromCalories(carbKcal, proteinKcal, fatKcal float64) Triple {
	return distribute([3]decimal.Decimal{grams(carbKcal), grams(proteinKcal), grams(fatKcal)})
}

func grams(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// distribute floors each share and hands the shortfall to the largest
// fractional parts, keeping carb/protein/fat order on ties.
func distribute(kcal [3]decimal.Decimal) Triple {
	total := kcal[0].Add(kcal[1]).Add(kcal[2])
	if total.IsZero() {
		return Fallback
	}

	var floors [3]int
	var fracs [3]decimal.Decimal
	sum := 0
	for i, k := range kcal {
		pct := k.Mul(hundred).Div(total)
		fl := pct.Floor()
		floors[i] = int(fl.IntPart())
		fracs[i] = pct.Sub(fl)
		sum += floors[i]
	}

	order := []int{0, 1, 2}
	sort.SliceStable(order, func(a, b int) bool {
		return fracs[order[a]].GreaterThan(fracs[order[b]])
	})
	for i := 0; i < 100-sum && i < len(order); i++ {
		floors[order[i]]++
	}

	return Triple{carb: floors[0], protein: floors[1], fat: floors[2]}
}
