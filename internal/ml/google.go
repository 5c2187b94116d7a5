package ml

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/franckalain/nutriratio/internal/models"
)

// analysisPrompt asks for the response shape models.Analysis decodes
const analysisPrompt = `Read the nutrition facts label in this image. Values are per serving as printed.
Respond with a single JSON object and nothing else:
{
	"nutrition": {
		"serving_size": "string, e.g. 100g or 1個",
		"calories": number,
		"carbohydrates_g": number,
		"protein_g": number,
		"fat_g": number,
		"sodium_mg": number,
		"sugars_g": number,
		"saturated_fat_g": number,
		"trans_fat_g": number,
		"cholesterol_mg": number,
		"fiber_g": number,
		"<field>_confidence": number between 0 and 1 for every field above
	},
	"ratio": {
		"carb_percent": number,
		"protein_percent": number,
		"fat_percent": number
	},
	"raw_data": {"ocr_text": "all label text as read"},
	"classified_data": {
		"product_name": "string", "product_name_confidence": number,
		"manufacturer": "string", "manufacturer_confidence": number,
		"category": "string", "category_confidence": number
	},
	"metadata": {
		"image_quality": "good | fair | poor",
		"detected_language": "ISO 639-1 code",
		"data_source": "label | estimated"
	},
	"advice": "one short sentence about the macro balance"
}
Omit any field that is not printed on the label instead of guessing zero.
The ratio is the share of calories from each macro using 4/4/9 kcal per gram.`

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config GoogleConfig
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config GoogleConfig) *GoogleModelFactory {
	return &GoogleModelFactory{config: config}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	return &GoogleModel{
		config: f.config,
	}, nil
}

// Load initializes the Google model
func (m *GoogleModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.ModelName)
	m.model.ResponseMIMEType = "application/json"
	m.model.SetTemperature(0)
	return nil
}

// Analyze sends the image and prompt to Vertex AI and decodes the reply
func (m *GoogleModel) Analyze(ctx context.Context, imageData []byte) (*models.Analysis, error) {
	if m.model == nil {
		return nil, ErrNotLoaded
	}

	resp, err := m.model.GenerateContent(ctx, genai.Text(analysisPrompt), genai.ImageData("jpeg", imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to call ai: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return models.ParseAnalysis([]byte(text))
}

// Close releases the Vertex AI client
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no response generated")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", errors.New("no content in response")
	}
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}
	return "", errors.New("no text part in response")
}
