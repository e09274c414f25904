package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

const prompt = `Analyze the provided image to determine if it shows a game of Valorant or Chess (on Chess.com).
For Valorant:
  - Return isInMatch: true if the image shows an active match (e.g., in-game UI with health bars, minimap, or kill feed visible).
  - Return isInMatch: false if the image shows the lobby, agent selection screen, or main menu.
For Chess (on Chess.com):
  - Return isInMatch: true if the image shows an active match with both player timers visible and no checkmate indication.
  - Return isInMatch: false if the image shows the Chess.com homepage, analysis board, or a completed game (e.g., checkmate or draw).
Return the result in the following JSON format:
{
  "game": "valorant" | "chess",
  "isInMatch": boolean
}`

var detectionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"game":      {Type: genai.TypeString, Enum: []string{string(GameValorant), string(GameChess)}},
		"isInMatch": {Type: genai.TypeBoolean},
	},
	Required: []string{"game", "isInMatch"},
}

// generator is the slice of the genai Models service the classifier uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Classifier asks a Gemini model which game a screenshot shows and whether
// a match is in progress.
type Classifier struct {
	gen   generator
	model string
}

// NewClassifier builds a Gemini API client for apiKey.
func NewClassifier(ctx context.Context, apiKey, model string) (*Classifier, error) {
	if apiKey == "" {
		return nil, errors.New("vision: GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("vision: create client: %w", err)
	}
	return newClassifier(client.Models, model), nil
}

func newClassifier(gen generator, model string) *Classifier {
	if model == "" {
		model = DefaultModel
	}
	return &Classifier{gen: gen, model: model}
}

// Classify sends the image to the model. Transport failures are returned
// as-is; an answer that does not parse is a *ClassificationError.
func (c *Classifier) Classify(ctx context.Context, image []byte, mimeType string) (Detection, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   detectionSchema,
	}
	resp, err := c.gen.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return Detection{}, fmt.Errorf("vision: generate: %w", err)
	}
	text := resp.Text()
	d, err := ParseDetection(text)
	if err != nil {
		slog.Warn("vision returned malformed classification", slog.String("component", "vision"), slog.String("raw", text), slog.Any("err", err))
		return Detection{}, err
	}
	slog.Debug("vision classification", slog.String("game", string(d.Game)), slog.Bool("in_match", d.IsInMatch))
	return d, nil
}
