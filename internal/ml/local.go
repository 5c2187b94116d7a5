package ml

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/franckalain/nutriratio/internal/models"
)

// LocalModel answers every image with a recorded analysis read from disk.
// It stands in for the vision service in development and tests.
type LocalModel struct {
	config LocalConfig

	mu       sync.RWMutex
	response []byte
}

// LocalModelFactory implements ModelFactory for local models
type LocalModelFactory struct {
	config LocalConfig
}

// NewLocalModelFactory creates a new local model factory
func NewLocalModelFactory(config LocalConfig) *LocalModelFactory {
	return &LocalModelFactory{config: config}
}

// CreateModel creates a new local model instance
func (f *LocalModelFactory) CreateModel() (Model, error) {
	return &LocalModel{
		config: f.config,
	}, nil
}

// Load reads the recorded analysis
func (m *LocalModel) Load(ctx context.Context) error {
	data, err := os.ReadFile(m.config.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to read local model response: %w", err)
	}
	// fail at startup rather than on the first scan
	if _, err := models.ParseAnalysis(data); err != nil {
		return err
	}

	m.mu.Lock()
	m.response = data
	m.mu.Unlock()
	return nil
}

// Analyze returns a fresh copy of the recorded analysis
func (m *LocalModel) Analyze(ctx context.Context, imageData []byte) (*models.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data := m.response
	m.mu.RUnlock()
	if data == nil {
		return nil, ErrNotLoaded
	}
	return models.ParseAnalysis(data)
}

// Close is a no-op
func (m *LocalModel) Close() error {
	return nil
}
