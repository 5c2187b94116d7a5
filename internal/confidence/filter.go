// Package confidence redacts classified fields whose extraction confidence is
// too low to be stored as trusted data.
package confidence

import (
	"strings"

	"github.com/franckalain/nutriratio/internal/models"
	"github.com/franckalain/nutriratio/internal/validation"
)

// Filter keeps each field whose sibling "<field>_confidence" meets threshold.
// Kept fields keep their confidence entry; a dropped field loses both, and so
// does a field with no confidence at all.
func Filter(fields map[string]any, threshold float64) map[string]any {
	kept := make(map[string]any)
	for key, value := range fields {
		if strings.HasSuffix(key, models.ConfidenceSuffix) {
			continue
		}
		confKey := key + models.ConfidenceSuffix
		c := models.NumberPtr(fields, confKey)
		if !validation.MeetsConfidenceThreshold(c, threshold) {
			continue
		}
		kept[key] = value
		kept[confKey] = fields[confKey]
	}
	return kept
}

// Classify turns the flat field/confidence map into a typed payload. Orphan
// confidence entries are ignored.
func Classify(fields map[string]any) models.ClassifiedPayload {
	if fields == nil {
		return nil
	}
	payload := make(models.ClassifiedPayload)
	for key, value := range fields {
		if strings.HasSuffix(key, models.ConfidenceSuffix) {
			continue
		}
		payload[key] = models.ClassifiedField{
			Value:      value,
			Confidence: models.NumberPtr(fields, key+models.ConfidenceSuffix),
		}
	}
	return payload
}

// Redact drops every classified field below threshold
func Redact(payload models.ClassifiedPayload, threshold float64) models.ClassifiedPayload {
	if payload == nil {
		return nil
	}
	kept := make(models.ClassifiedPayload, len(payload))
	for name, field := range payload {
		if validation.MeetsConfidenceThreshold(field.Confidence, threshold) {
			kept[name] = field
		}
	}
	return kept
}

// Trusted returns the classified part of an analysis ready to persist
func Trusted(a *models.Analysis, threshold float64) models.ClassifiedPayload {
	return Classify(Filter(a.Classified, threshold))
}
