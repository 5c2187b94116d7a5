package ratio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRatio is returned when a triple is out of range or does not sum to 100
var ErrInvalidRatio = errors.New("invalid ratio")

// Triple is a carbohydrate:protein:fat calorie split in whole percentage points.
// A Triple obtained from NewTriple or the calculator always sums to exactly 100.
type Triple struct {
	carb    int
	protein int
	fat     int
}

// Fallback is used when no macro data exists
var Fallback = Triple{carb: 33, protein: 33, fat: 34}

// WHOTarget is the reference 50/30/20 split used as a comparison baseline
var WHOTarget = Triple{carb: 50, protein: 30, fat: 20}

// NewTriple validates and builds a Triple
func NewTriple(carb, protein, fat int) (Triple, error) {
	for _, v := range []int{carb, protein, fat} {
		if v < 0 || v > 100 {
			return Triple{}, fmt.Errorf("%w: value %d outside [0,100]", ErrInvalidRatio, v)
		}
	}
	if sum := carb + protein + fat; sum != 100 {
		return Triple{}, fmt.Errorf("%w: %d+%d+%d=%d, want 100", ErrInvalidRatio, carb, protein, fat, sum)
	}
	return Triple{carb: carb, protein: protein, fat: fat}, nil
}

// MustTriple is NewTriple for constants; it panics on invalid input
func MustTriple(carb, protein, fat int) Triple {
	t, err := NewTriple(carb, protein, fat)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse reads a "carb:protein:fat" string such as "50:30:20"
func Parse(s string) (Triple, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Triple{}, fmt.Errorf("%w: %q is not carb:protein:fat", ErrInvalidRatio, s)
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Triple{}, fmt.Errorf("%w: %q: %v", ErrInvalidRatio, s, err)
		}
		vals[i] = n
	}
	return NewTriple(vals[0], vals[1], vals[2])
}

func (t Triple) Carb() int    { return t.carb }
func (t Triple) Protein() int { return t.protein }
func (t Triple) Fat() int     { return t.fat }

// IsZero reports whether t is the unset zero value
func (t Triple) IsZero() bool {
	return t == Triple{}
}

func (t Triple) String() string {
	return fmt.Sprintf("%d:%d:%d", t.carb, t.protein, t.fat)
}

type tripleJSON struct {
	Carb    int `json:"carb"`
	Protein int `json:"protein"`
	Fat     int `json:"fat"`
}

func (t Triple) MarshalJSON() ([]byte, error) {
	return json.Marshal(tripleJSON{Carb: t.carb, Protein: t.protein, Fat: t.fat})
}

func (t *Triple) UnmarshalJSON(data []byte) error {
	var raw tripleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := NewTriple(raw.Carb, raw.Protein, raw.Fat)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Deviation is the signed point difference of each macro from a target
type Deviation struct {
	Carb    int `json:"carb"`
	Protein int `json:"protein"`
	Fat     int `json:"fat"`
}

// Compare returns actual minus target for each macro
func Compare(actual, target Triple) Deviation {
	return Deviation{
		Carb:    actual.carb - target.carb,
		Protein: actual.protein - target.protein,
		Fat:     actual.fat - target.fat,
	}
}
