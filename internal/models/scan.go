package models

import (
	"time"

	"github.com/franckalain/nutriratio/internal/ratio"
)

// ValidationStatus is the overall outcome of validating a scan
type ValidationStatus string

const (
	StatusPassed  ValidationStatus = "passed"
	StatusWarning ValidationStatus = "warning"
	StatusFailed  ValidationStatus = "failed"
)

// Data sources reported by the vision service
const (
	SourceLabel     = "label"     // measured from a nutrition label
	SourceEstimated = "estimated" // estimated from a photo of the food
)

// ScanRecord is the durable result of one scan
type ScanRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CapturedAt time.Time `json:"captured_at"`

	// Certain data, always kept
	Ratio    ratio.Triple `json:"ratio"`
	ImageRef string       `json:"image_ref"`

	Reading    NutritionReading  `json:"reading"`
	Classified ClassifiedPayload `json:"classified,omitempty"` // confidence-filtered
	Raw        RawPayload        `json:"raw"`

	Status     ValidationStatus `json:"status"`
	Advice     string           `json:"advice,omitempty"`
	DataSource string           `json:"data_source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidationReport is the outcome of the five validation levels for one scan
type ValidationReport struct {
	ID     string `json:"id"`
	ScanID string `json:"scan_id"`

	// Level 1: required fields
	RequiredFieldsPassed bool     `json:"required_fields_passed"`
	MissingFields        []string `json:"missing_fields"`

	// Level 2: value warnings
	Warnings []string `json:"warnings"`

	// Level 3: logical consistency; nil when inputs were absent
	RatioSumValid      *bool    `json:"ratio_sum_valid"`
	CalorieDiscrepancy *float64 `json:"calorie_discrepancy_percent"`

	// Level 4: anomalies
	Anomalies []string `json:"anomalies"`

	// Level 5: low confidence
	LowConfidenceCount  int                `json:"low_confidence_count"`
	LowConfidenceFields map[string]float64 `json:"low_confidence_fields"`

	Status    ValidationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// DailyIntake is the derived total of one calendar day's scans
type DailyIntake struct {
	Date string `json:"date"` // YYYY-MM-DD

	TotalCalories   int `json:"total_calories"`
	CarbCalories    int `json:"carb_calories"`
	ProteinCalories int `json:"protein_calories"`
	FatCalories     int `json:"fat_calories"`

	CarbGrams    float64 `json:"carb_grams"`
	ProteinGrams float64 `json:"protein_grams"`
	FatGrams     float64 `json:"fat_grams"`

	Ratio            ratio.Triple `json:"ratio"`
	HasEstimatedData bool         `json:"has_estimated_data"`
	ScanCount        int          `json:"scan_count"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// DateLayout formats DailyIntake.Date
const DateLayout = "2006-01-02"
