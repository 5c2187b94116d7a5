package ml

import (
	"context"
	"errors"
	"fmt"

	"github.com/franckalain/nutriratio/internal/models"
)

// ErrNotLoaded is returned when Analyze is called before Load
var ErrNotLoaded = errors.New("model not loaded")

// Model represents a vision service that reads a nutrition label image
type Model interface {
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// Analyze takes an image and returns the service's untrusted analysis
	Analyze(ctx context.Context, imageData []byte) (*models.Analysis, error)
	// Close releases any client held by the model
	Close() error
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// NewModel creates a new model instance for the configured backend
func NewModel(cfg Config) (Model, error) {
	var factory ModelFactory
	switch cfg.Type {
	case TypeGoogle:
		factory = NewGoogleModelFactory(cfg.Google)
	case TypeLocal:
		factory = NewLocalModelFactory(cfg.Local)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Type)
	}
	return factory.CreateModel()
}
