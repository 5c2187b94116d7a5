package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Ratio section keys
const (
	RatioCarb    = "carb_percent"
	RatioProtein = "protein_percent"
	RatioFat     = "fat_percent"
)

// ConfidenceSuffix marks a field's sibling confidence entry
const ConfidenceSuffix = "_confidence"

// AnalysisMetadata describes how the vision service produced its answer
type AnalysisMetadata struct {
	ImageQuality     string `json:"image_quality,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	DataSource       string `json:"data_source,omitempty"`
}

// Analysis is the untrusted response of the vision service.
// Sections are kept as loose maps so absent keys can be told apart from zeros.
type Analysis struct {
	Nutrition  map[string]any   `json:"nutrition"`
	Ratio      map[string]any   `json:"ratio"`
	RawData    json.RawMessage  `json:"raw_data"`
	Classified map[string]any   `json:"classified_data,omitempty"`
	Metadata   AnalysisMetadata `json:"metadata"`
	Advice     string           `json:"advice,omitempty"`

	// Source is the response exactly as received
	Source json.RawMessage `json:"-"`
}

// ParseAnalysis decodes a vision service reply, tolerating a markdown code fence
func ParseAnalysis(text []byte) (*Analysis, error) {
	body := bytes.TrimSpace(text)
	body = bytes.TrimPrefix(body, []byte("```json"))
	body = bytes.TrimPrefix(body, []byte("```"))
	body = bytes.TrimSuffix(body, []byte("```"))
	body = bytes.TrimSpace(body)

	var a Analysis
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	a.Source = append(json.RawMessage(nil), body...)
	return &a, nil
}

// Number reads a numeric value from a section. Numeric strings are accepted.
func Number(section map[string]any, key string) (float64, bool) {
	v, ok := section[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// NumberPtr is Number returning nil when the value is absent
func NumberPtr(section map[string]any, key string) *float64 {
	f, ok := Number(section, key)
	if !ok {
		return nil
	}
	return &f
}

// Reading builds a NutritionReading from the nutrition section. Values are kept
// whatever their confidence.
func (a *Analysis) Reading() NutritionReading {
	n := a.Nutrition
	r := NutritionReading{
		Carbohydrates: NumberPtr(n, FieldCarbohydrates),
		Protein:       NumberPtr(n, FieldProtein),
		Fat:           NumberPtr(n, FieldFat),
		Sodium:        NumberPtr(n, FieldSodium),
		Sugars:        NumberPtr(n, FieldSugars),
		SaturatedFat:  NumberPtr(n, FieldSaturatedFat),
		TransFat:      NumberPtr(n, FieldTransFat),
		Cholesterol:   NumberPtr(n, FieldCholesterol),
		Fiber:         NumberPtr(n, FieldFiber),
	}
	if s, ok := n[FieldServingSize].(string); ok {
		r.ServingSize = strings.TrimSpace(s)
	}
	if kcal, ok := Number(n, FieldCalories); ok {
		v := int(math.Round(kcal))
		r.Calories = &v
	}
	for key := range n {
		if !strings.HasSuffix(key, ConfidenceSuffix) {
			continue
		}
		if c, ok := Number(n, key); ok {
			if r.Confidence == nil {
				r.Confidence = make(map[string]float64)
			}
			r.Confidence[strings.TrimSuffix(key, ConfidenceSuffix)] = c
		}
	}
	return r
}

// OCRText returns the recognised label text. raw_data may be a string or an
// object with an ocr_text member.
func (a *Analysis) OCRText() string {
	if len(a.RawData) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.RawData, &s); err == nil {
		return s
	}
	var obj struct {
		OCRText string `json:"ocr_text"`
	}
	if err := json.Unmarshal(a.RawData, &obj); err == nil {
		return obj.OCRText
	}
	return ""
}

// Raw returns the audit copy of the response
func (a *Analysis) Raw() RawPayload {
	return RawPayload{Data: a.Source, OCRText: a.OCRText()}
}
