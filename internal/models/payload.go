package models

import (
	"encoding/json"
	"sort"
)

// PayloadKind tags the variants of Payload
type PayloadKind string

const (
	PayloadRaw        PayloadKind = "raw"
	PayloadClassified PayloadKind = "classified"
)

// Payload is either the untouched source response or confidence-scored
// classified fields. The set of variants is closed.
type Payload interface {
	Kind() PayloadKind
	payload()
}

// RawPayload keeps the original response bytes for audit. It is never filtered.
type RawPayload struct {
	Data    json.RawMessage `json:"data,omitempty"`
	OCRText string          `json:"ocr_text"`
}

func (RawPayload) Kind() PayloadKind { return PayloadRaw }
func (RawPayload) payload()          {}

// ClassifiedField is one product-identity value with its extraction confidence
type ClassifiedField struct {
	Value      any      `json:"value"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ClassifiedPayload maps field name to its scored value
type ClassifiedPayload map[string]ClassifiedField

func (ClassifiedPayload) Kind() PayloadKind { return PayloadClassified }
func (ClassifiedPayload) payload()          {}

// String returns the value of field when it is a string
func (p ClassifiedPayload) String(field string) string {
	f, ok := p[field]
	if !ok {
		return ""
	}
	s, _ := f.Value.(string)
	return s
}

// Fields returns the field names in sorted order
func (p ClassifiedPayload) Fields() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classified field names produced by the vision service
const (
	ClassifiedProductName  = "product_name"
	ClassifiedManufacturer = "manufacturer"
	ClassifiedCategory     = "category"
)
