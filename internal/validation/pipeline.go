package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/franckalain/nutriratio/internal/models"
)

// Section names used in dotted field paths
const (
	SectionNutrition  = "nutrition"
	SectionRatio      = "ratio"
	SectionClassified = "classified_data"
)

var (
	requiredNutrition = []string{models.FieldCarbohydrates, models.FieldProtein, models.FieldFat}
	requiredRatio     = []string{models.RatioCarb, models.RatioProtein, models.RatioFat}
)

// Pipeline runs the five validation levels over one analysis
type Pipeline struct {
	rules Rules
}

// NewPipeline creates a pipeline with the given thresholds
func NewPipeline(rules Rules) *Pipeline {
	return &Pipeline{rules: rules}
}

// Rules returns the thresholds in use
func (p *Pipeline) Rules() Rules {
	return p.rules
}

// Run executes every level and derives the overall status. Every level runs
// even when an earlier one failed.
func (p *Pipeline) Run(a *models.Analysis) models.ValidationReport {
	if a == nil {
		a = &models.Analysis{}
	}
	var report models.ValidationReport

	report.RequiredFieldsPassed, report.MissingFields = p.checkRequired(a)
	report.Warnings = p.checkValues(a)
	report.RatioSumValid, report.CalorieDiscrepancy = p.checkConsistency(a)
	report.Anomalies = p.detectAnomalies(a, report.CalorieDiscrepancy)
	report.LowConfidenceCount, report.LowConfidenceFields = p.measureConfidence(a)

	report.Status = DeriveStatus(report, p.rules.LowConfidenceWarnLimit)
	return report
}

// DeriveStatus applies failed > warning > passed
func DeriveStatus(r models.ValidationReport, lowConfidenceWarnLimit int) models.ValidationStatus {
	if !r.RequiredFieldsPassed || (r.RatioSumValid != nil && !*r.RatioSumValid) {
		return models.StatusFailed
	}
	if len(r.Warnings) > 0 || len(r.Anomalies) > 0 || r.LowConfidenceCount > lowConfidenceWarnLimit {
		return models.StatusWarning
	}
	return models.StatusPassed
}

// Level 1
func (p *Pipeline) checkRequired(a *models.Analysis) (bool, []string) {
	missing := []string{}
	for _, f := range requiredNutrition {
		if _, ok := models.Number(a.Nutrition, f); !ok {
			missing = append(missing, SectionNutrition+"."+f)
		}
	}
	for _, f := range requiredRatio {
		if _, ok := models.Number(a.Ratio, f); !ok {
			missing = append(missing, SectionRatio+"."+f)
		}
	}
	return len(missing) == 0, missing
}

// Level 2
func (p *Pipeline) checkValues(a *models.Analysis) []string {
	warnings := []string{}

	for _, section := range []struct {
		name   string
		values map[string]any
	}{
		{SectionNutrition, a.Nutrition},
		{SectionClassified, a.Classified},
	} {
		for _, key := range sortedKeys(section.values) {
			if strings.HasSuffix(key, models.ConfidenceSuffix) {
				continue
			}
			if v, ok := models.Number(section.values, key); ok && v < 0 {
				warnings = append(warnings, fmt.Sprintf("%s.%s is negative (%g)", section.name, key, v))
			}
		}
	}

	if kcal, ok := models.Number(a.Nutrition, models.FieldCalories); ok &&
		!InRange(kcal, p.rules.CaloriesMin, p.rules.CaloriesMax) {
		warnings = append(warnings, fmt.Sprintf("%s.%s %g outside [%g,%g]",
			SectionNutrition, models.FieldCalories, kcal, p.rules.CaloriesMin, p.rules.CaloriesMax))
	}

	for _, f := range requiredRatio {
		if v, ok := models.Number(a.Ratio, f); ok && !InRange(v, p.rules.RatioMin, p.rules.RatioMax) {
			warnings = append(warnings, fmt.Sprintf("%s.%s %g outside [%g,%g]",
				SectionRatio, f, v, p.rules.RatioMin, p.rules.RatioMax))
		}
	}

	if raw, ok := a.Nutrition[models.FieldServingSize]; ok && raw != nil {
		s, isString := raw.(string)
		if !isString || !IsValidServingSize(s) {
			warnings = append(warnings, fmt.Sprintf("%s.%s %q is not <number><unit>",
				SectionNutrition, models.FieldServingSize, fmt.Sprint(raw)))
		}
	}

	return warnings
}

// Level 3
func (p *Pipeline) checkConsistency(a *models.Analysis) (*bool, *float64) {
	var sumValid *bool
	carbPct, ok1 := models.Number(a.Ratio, models.RatioCarb)
	proteinPct, ok2 := models.Number(a.Ratio, models.RatioProtein)
	fatPct, ok3 := models.Number(a.Ratio, models.RatioFat)
	if ok1 && ok2 && ok3 {
		v := IsRatioSumValid(carbPct, proteinPct, fatPct, p.rules.RatioSumTolerance)
		sumValid = &v
	}

	var discrepancy *float64
	if kcal, carb, protein, fat, ok := calorieInputs(a); ok {
		d := CalorieDiscrepancyPercent(kcal, carb, protein, fat)
		discrepancy = &d
	}
	return sumValid, discrepancy
}

// Level 4
func (p *Pipeline) detectAnomalies(a *models.Analysis, discrepancy *float64) []string {
	anomalies := []string{}

	fatPct, okFat := models.Number(a.Ratio, models.RatioFat)
	kcal, okKcal := models.Number(a.Nutrition, models.FieldCalories)
	if okFat && okKcal && fatPct > p.rules.FatRatioLimit && kcal < p.rules.LowCalorieLimit {
		anomalies = append(anomalies, fmt.Sprintf("fat ratio %g%% with only %g kcal is implausible", fatPct, kcal))
	}

	if discrepancy != nil && HasCalorieAnomaly(*discrepancy, p.rules.AnomalyDiscrepancyPercent) {
		anomalies = append(anomalies, fmt.Sprintf("calorie discrepancy %.1f%% suggests an extraction error", *discrepancy))
	}

	carb, ok1 := models.Number(a.Nutrition, models.FieldCarbohydrates)
	protein, ok2 := models.Number(a.Nutrition, models.FieldProtein)
	fat, ok3 := models.Number(a.Nutrition, models.FieldFat)
	if ok1 && ok2 && ok3 && IsMultipleOf5(carb) && IsMultipleOf5(protein) && IsMultipleOf5(fat) {
		anomalies = append(anomalies, "all macro grams are multiples of 5; values may be estimated")
	}

	return anomalies
}

// Level 5. Measurement only; redaction happens in the confidence filter.
func (p *Pipeline) measureConfidence(a *models.Analysis) (int, map[string]float64) {
	low := map[string]float64{}
	for _, section := range []struct {
		name   string
		values map[string]any
	}{
		{SectionNutrition, a.Nutrition},
		{SectionClassified, a.Classified},
	} {
		for key := range section.values {
			if !strings.HasSuffix(key, models.ConfidenceSuffix) {
				continue
			}
			c, ok := models.Number(section.values, key)
			if !ok || MeetsConfidenceThreshold(&c, p.rules.ConfidenceThreshold) {
				continue
			}
			low[section.name+"."+strings.TrimSuffix(key, models.ConfidenceSuffix)] = c
		}
	}
	return len(low), low
}

func calorieInputs(a *models.Analysis) (kcal, carb, protein, fat float64, ok bool) {
	var k, c, p, f bool
	kcal, k = models.Number(a.Nutrition, models.FieldCalories)
	carb, c = models.Number(a.Nutrition, models.FieldCarbohydrates)
	protein, p = models.Number(a.Nutrition, models.FieldProtein)
	fat, f = models.Number(a.Nutrition, models.FieldFat)
	return kcal, carb, protein, fat, k && c && p && f
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
