package models

// CitationContext ist ein einzelner Zitationskontext aus der Extraktion:
// das zitierte Werk plus der umgebende Text.
type CitationContext struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	Year          int      `json:"year,omitempty"`
	Section       string   `json:"section,omitempty"`
	Context       string   `json:"context"`
	ContextBefore string   `json:"contextBefore,omitempty"`
	ContextAfter  string   `json:"contextAfter,omitempty"`
}

// ExtractionResult ist die Antwort des Citation-Extractors für ein Paper.
type ExtractionResult struct {
	Success    bool              `json:"success"`
	PaperTitle string            `json:"paperTitle"`
	Citations  []CitationContext `json:"citations"`
}

// Classification ist das Urteil des Relationship-Classifiers für einen
// Zitationskontext.
type Classification struct {
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength"`
	Evidence     string  `json:"evidence"`
	Description  string  `json:"description"`
}

// InferredRelationship verbindet eine Klassifikation mit den ephemeren
// Knoten-IDs der beiden beteiligten Papers.
type InferredRelationship struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Classification
}
