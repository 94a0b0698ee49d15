package providers

import (
	"context"

	"paper-graph/models"
)

// Extractor ist das Interface für die Citation-Context-Extraktion.
// Die eigentliche PDF-Verarbeitung ist eine Black-Box; Implementierungen
// liefern pro Paper-URL die Zitationskontexte mit umgebendem Text.
type Extractor interface {
	// Extract holt die Zitationskontexte für eine Paper-URL.
	Extract(ctx context.Context, paperURL string) (*models.ExtractionResult, error)

	// Name gibt den eindeutigen Namen des Extractors zurück (z.B. "service").
	Name() string
}

// Classifier ist das Interface für die LLM-Beziehungsklassifikation.
// Ein Fehler bedeutet: keine Kante (fail closed), niemals ein Default-Label.
type Classifier interface {
	// Classify beurteilt die Beziehung zwischen zitierendem und zitiertem
	// Paper anhand des Zitationskontexts.
	Classify(ctx context.Context, req ClassifyRequest) (*models.Classification, error)
}

// ClassifyRequest bündelt die Eingaben für eine Klassifikation.
type ClassifyRequest struct {
	CitingTitle string `json:"citing_title"`
	CitedTitle  string `json:"cited_title"`
	Context     string `json:"context"`
}
