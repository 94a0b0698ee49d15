package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"paper-graph/config"
	"paper-graph/models"
	"paper-graph/providers"

	"go.uber.org/zap"
)

// LLMClassifier beurteilt die Beziehung zwischen zwei Papers über eine
// Chat-Completions-kompatible API. Jeder Fehler (Transport, Status,
// unbekanntes Label) führt dazu, dass keine Kante entsteht — es gibt
// bewusst kein Default-Label.
type LLMClassifier struct {
	Config *config.Config
	Logger *zap.Logger
	client *http.Client
}

// NewLLMClassifier erstellt einen neuen LLM-Classifier.
func NewLLMClassifier(cfg *config.Config, logger *zap.Logger) *LLMClassifier {
	return &LLMClassifier{
		Config: cfg,
		Logger: logger,
		client: &http.Client{Timeout: cfg.ClassifierTimeout},
	}
}

const systemPrompt = `You classify the semantic relationship between a citing paper and a cited paper based on a citation context. Respond with JSON: {"relationship": one of builds_on|extends|applies|compares|critiques|references|related, "strength": 0.0-1.0, "evidence": short excerpt from the context, "description": one sentence}.`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify ruft das Modell auf und validiert die Antwort gegen das feste
// Beziehungsvokabular.
func (c *LLMClassifier) Classify(ctx context.Context, req providers.ClassifyRequest) (*models.Classification, error) {
	log := c.Logger.With(
		zap.String("citing", req.CitingTitle),
		zap.String("cited", req.CitedTitle))

	user := fmt.Sprintf("Citing paper: %q\nCited paper: %q\nCitation context: %q",
		req.CitingTitle, req.CitedTitle, req.Context)

	body, err := json.Marshal(chatRequest{
		Model: c.Config.ClassifierModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.Config.ClassifierBaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Config.ClassifierAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Config.ClassifierAPIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier request failed with status: %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, err
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("classifier returned no choices")
	}

	var result models.Classification
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("classifier returned malformed JSON: %w", err)
	}
	if !models.ValidRelationship(result.Relationship) {
		return nil, fmt.Errorf("classifier returned unknown relationship %q", result.Relationship)
	}
	if result.Strength < 0 {
		result.Strength = 0
	}
	if result.Strength > 1 {
		result.Strength = 1
	}

	log.Debug("Klassifikation abgeschlossen",
		zap.String("relationship", result.Relationship),
		zap.Float64("strength", result.Strength))
	return &result, nil
}
