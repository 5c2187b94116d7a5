package ml

import (
	"os"
)

// Model backends
const (
	TypeGoogle = "google"
	TypeLocal  = "local"
)

// Config selects and configures the analysis backend
type Config struct {
	Type   string       `json:"type" validate:"oneof=google local"`
	Google GoogleConfig `json:"google"`
	Local  LocalConfig  `json:"local"`
}

// GoogleConfig holds configuration for the Vertex AI backend
type GoogleConfig struct {
	ProjectID       string `json:"project_id" validate:"required_if=Enabled true"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	ModelName       string `json:"model_name"`
	Enabled         bool   `json:"-"`
}

// LocalConfig holds configuration for the fixture-backed model
type LocalConfig struct {
	ModelPath string `json:"model_path" validate:"required_if=Enabled true"`
	Enabled   bool   `json:"-"`
}

// LoadEnv fills settings left empty by the config file from the environment
// and marks the selected backend as enabled.
func (c *Config) LoadEnv() {
	if c.Google.ProjectID == "" {
		c.Google.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if c.Google.Location == "" {
		c.Google.Location = os.Getenv("GOOGLE_LOCATION")
	}
	if c.Google.Location == "" {
		c.Google.Location = "us-central1"
	}
	if c.Google.CredentialsFile == "" {
		c.Google.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}
	if c.Google.ModelName == "" {
		c.Google.ModelName = "gemini-1.5-flash"
	}
	if c.Local.ModelPath == "" {
		c.Local.ModelPath = os.Getenv("LOCAL_MODEL_PATH")
	}

	c.Google.Enabled = c.Type == TypeGoogle
	c.Local.Enabled = c.Type == TypeLocal
}
