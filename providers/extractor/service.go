package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"paper-graph/config"
	"paper-graph/models"

	"go.uber.org/zap"
)

// ServiceExtractor ruft den externen Extraction-Service auf, der aus einer
// Paper-URL die Zitationskontexte gewinnt (PDF-Parsing bleibt Black-Box).
type ServiceExtractor struct {
	Config *config.Config
	Logger *zap.Logger
	client *http.Client
}

// NewServiceExtractor erstellt einen neuen Service-Extractor.
func NewServiceExtractor(cfg *config.Config, logger *zap.Logger) *ServiceExtractor {
	return &ServiceExtractor{
		Config: cfg,
		Logger: logger,
		client: &http.Client{Timeout: cfg.ExtractorTimeout},
	}
}

// Name gibt den eindeutigen Namen des Extractors zurück.
func (e *ServiceExtractor) Name() string { return "service" }

// Extract holt die Zitationskontexte für eine Paper-URL. Jeder Aufruf
// trägt sein eigenes Timeout; ein Timeout ist ein Per-Item-Fehler und
// bricht nie den gesamten Batch ab.
func (e *ServiceExtractor) Extract(ctx context.Context, paperURL string) (*models.ExtractionResult, error) {
	log := e.Logger.With(zap.String("paper_url", paperURL))

	payload, err := json.Marshal(map[string]string{"url": paperURL})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.Config.ExtractorBaseURL+"/extract", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor request failed with status: %d", resp.StatusCode)
	}

	var result models.ExtractionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("extractor reported failure for %s", paperURL)
	}

	log.Debug("Extraktion abgeschlossen", zap.Int("citations", len(result.Citations)))
	return &result, nil
}
