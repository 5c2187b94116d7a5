package validation

// Rules holds the thresholds the pipeline applies
type Rules struct {
	RatioSumTolerance         float64 `json:"ratio_sum_tolerance" validate:"gte=0,lte=100"`
	CaloriesMin               float64 `json:"calories_min"`
	CaloriesMax               float64 `json:"calories_max" validate:"gtfield=CaloriesMin"`
	RatioMin                  float64 `json:"ratio_min"`
	RatioMax                  float64 `json:"ratio_max" validate:"gtfield=RatioMin"`
	ConfidenceThreshold       float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	AnomalyDiscrepancyPercent float64 `json:"anomaly_discrepancy_percent" validate:"gte=0"`
	FatRatioLimit             float64 `json:"fat_ratio_limit" validate:"gte=0,lte=100"`
	LowCalorieLimit           float64 `json:"low_calorie_limit" validate:"gte=0"`
	LowConfidenceWarnLimit    int     `json:"low_confidence_warn_limit" validate:"gte=0"`
}

// Default thresholds
const (
	DefaultRatioSumTolerance         = 5
	DefaultConfidenceThreshold       = 0.85
	DefaultAnomalyDiscrepancyPercent = 25
)

// DefaultRules returns the stock thresholds
func DefaultRules() Rules {
	return Rules{
		RatioSumTolerance:         DefaultRatioSumTolerance,
		CaloriesMin:               0,
		CaloriesMax:               900,
		RatioMin:                  0,
		RatioMax:                  100,
		ConfidenceThreshold:       DefaultConfidenceThreshold,
		AnomalyDiscrepancyPercent: DefaultAnomalyDiscrepancyPercent,
		FatRatioLimit:             50,
		LowCalorieLimit:           150,
		LowConfidenceWarnLimit:    3,
	}
}
