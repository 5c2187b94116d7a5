package models

// Field names used in the nutrition section of an analysis and as keys of
// NutritionReading.Confidence
const (
	FieldServingSize   = "serving_size"
	FieldCalories      = "calories"
	FieldCarbohydrates = "carbohydrates_g"
	FieldProtein       = "protein_g"
	FieldFat           = "fat_g"
	FieldSodium        = "sodium_mg"
	FieldSugars        = "sugars_g"
	FieldSaturatedFat  = "saturated_fat_g"
	FieldTransFat      = "trans_fat_g"
	FieldCholesterol   = "cholesterol_mg"
	FieldFiber         = "fiber_g"
)

// CoreFields are the values a reading needs to take part in daily totals
var CoreFields = []string{FieldCalories, FieldCarbohydrates, FieldProtein, FieldFat}

// NutritionReading holds one scan's nutrition facts.
// Pointer fields are nil when the label did not provide a value.
type NutritionReading struct {
	ServingSize   string   `json:"serving_size,omitempty"`
	Calories      *int     `json:"calories,omitempty"` // kcal
	Carbohydrates *float64 `json:"carbohydrates_g,omitempty"`
	Protein       *float64 `json:"protein_g,omitempty"`
	Fat           *float64 `json:"fat_g,omitempty"`

	// Micronutrients
	Sodium       *float64 `json:"sodium_mg,omitempty"`
	Sugars       *float64 `json:"sugars_g,omitempty"`
	SaturatedFat *float64 `json:"saturated_fat_g,omitempty"`
	TransFat     *float64 `json:"trans_fat_g,omitempty"`
	Cholesterol  *float64 `json:"cholesterol_mg,omitempty"`
	Fiber        *float64 `json:"fiber_g,omitempty"`

	// Confidence per field name, in [0,1]. Fields without an entry had no score.
	Confidence map[string]float64 `json:"confidence,omitempty"`
}

// HasCore reports whether calories and all three macro grams are present
func (r NutritionReading) HasCore() bool {
	return r.Calories != nil && r.Carbohydrates != nil && r.Protein != nil && r.Fat != nil
}

// ConfidenceOf returns the score recorded for field, or nil
func (r NutritionReading) ConfidenceOf(field string) *float64 {
	c, ok := r.Confidence[field]
	if !ok {
		return nil
	}
	return &c
}
