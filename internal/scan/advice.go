package scan

import (
	"fmt"

	"github.com/franckalain/nutriratio/internal/ratio"
)

// balancedWithin is how many points each macro may stray from the target
// before advice mentions it
const balancedWithin = 5

// Advise describes the largest gap between a scan's ratio and the target
func Advise(actual, target ratio.Triple) string {
	d := ratio.Compare(actual, target)

	macros := []struct {
		name string
		diff int
	}{
		{"Carbohydrate", d.Carb},
		{"Protein", d.Protein},
		{"Fat", d.Fat},
	}
	worst := macros[0]
	for _, m := range macros[1:] {
		if abs(m.diff) > abs(worst.diff) {
			worst = m
		}
	}

	if abs(worst.diff) <= balancedWithin {
		return fmt.Sprintf("Balanced: within %d points of your %s target.", balancedWithin, target)
	}
	direction := "above"
	if worst.diff < 0 {
		direction = "below"
	}
	return fmt.Sprintf("%s share is %d points %s your %s target.", worst.name, abs(worst.diff), direction, target)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
