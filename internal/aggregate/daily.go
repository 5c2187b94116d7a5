// Package aggregate folds a day's scans into a DailyIntake.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/franckalain/nutriratio/internal/models"
	"github.com/franckalain/nutriratio/internal/ratio"
	"github.com/franckalain/nutriratio/internal/validation"
)

// DayBounds returns [start, end) of the calendar day containing t in t's location
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// Compute derives the DailyIntake for the day containing day. Records outside
// the day or missing any core value are skipped. The result depends only on
// the set of records, not their order.
func Compute(day time.Time, records []*models.ScanRecord, threshold float64) models.DailyIntake {
	start, end := DayBounds(day)

	included := make([]*models.ScanRecord, 0, len(records))
	for _, r := range records {
		if r == nil || r.CapturedAt.Before(start) || !r.CapturedAt.Before(end) {
			continue
		}
		if !r.Reading.HasCore() {
			continue
		}
		included = append(included, r)
	}
	sort.Slice(included, func(i, j int) bool {
		if !included[i].CapturedAt.Equal(included[j].CapturedAt) {
			return included[i].CapturedAt.Before(included[j].CapturedAt)
		}
		return included[i].ID < included[j].ID
	})

	intake := models.DailyIntake{
		Date:      start.Format(models.DateLayout),
		UpdatedAt: start,
	}

	for _, r := range included {
		intake.TotalCalories += *r.Reading.Calories
		intake.CarbGrams += *r.Reading.Carbohydrates
		intake.ProteinGrams += *r.Reading.Protein
		intake.FatGrams += *r.Reading.Fat
		intake.ScanCount++

		if isEstimated(r.Reading, threshold) {
			intake.HasEstimatedData = true
		}
		if r.UpdatedAt.After(intake.UpdatedAt) {
			intake.UpdatedAt = r.UpdatedAt
		}
	}

	// rounded once at the sum level
	intake.CarbCalories = int(math.Round(intake.CarbGrams * ratio.CarbKcalPerGram))
	intake.ProteinCalories = int(math.Round(intake.ProteinGrams * ratio.ProteinKcalPerGram))
	intake.FatCalories = int(math.Round(intake.FatGrams * ratio.FatKcalPerGram))
	intake.Ratio = ratio.FromCalories(
		float64(intake.CarbCalories), float64(intake.ProteinCalories), float64(intake.FatCalories))

	return intake
}

func isEstimated(r models.NutritionReading, threshold float64) bool {
	for _, f := range models.CoreFields {
		if !validation.MeetsConfidenceThreshold(r.ConfidenceOf(f), threshold) {
			return true
		}
	}
	return false
}
