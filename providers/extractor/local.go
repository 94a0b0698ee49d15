package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"paper-graph/models"

	"go.uber.org/zap"
)

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	return t.Transport.RoundTrip(req)
}

// httpClient wird für alle Downloads des lokalen Extractors verwendet.
var httpClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &CustomTransport{
		Transport: http.DefaultTransport,
	},
}

// LocalExtractor ist ein regex-basierter Fallback ohne externen Service:
// er lädt den Text hinter der URL und gewinnt Zitationskontexte aus dem
// Literaturverzeichnis plus den In-Text-Zitierungen. Deutlich gröber als
// der Service-Extractor, aber offline nutzbar.
type LocalExtractor struct {
	Logger *zap.Logger
}

// NewLocalExtractor erstellt einen neuen lokalen Extractor.
func NewLocalExtractor(logger *zap.Logger) *LocalExtractor {
	return &LocalExtractor{Logger: logger}
}

// Name gibt den eindeutigen Namen des Extractors zurück.
func (e *LocalExtractor) Name() string { return "local" }

var (
	inTextCitation = regexp.MustCompile(`\([A-Z][a-zA-Z\s&,]+(?:\s+et\s+al\.?)?,?\s*\d{4}[a-z]?\)|\[\d{1,3}(?:[-–,\s]*\d{1,3}){0,4}\]`)
	refLineYear    = regexp.MustCompile(`[A-Z][a-zA-Z\s,&]+\s*\(\d{4}[a-z]?\)|[A-Z][a-zA-Z\s,&]+\.\s*\d{4}[a-z]?`)
	refLineNumeric = regexp.MustCompile(`^\d{1,3}\.\s+[A-Z]|^\[\d{1,3}\]\s+[A-Z]`)
	refTitleQuoted = regexp.MustCompile(`["“]([^"”]{10,})["”]`)
)

// refSections sind bekannte Überschriften des Literaturverzeichnisses.
var refSections = []string{
	"References", "Bibliography", "Literature", "Works Cited",
	"Literaturverzeichnis", "Literatur", "Quellen", "Sources",
}

// Extract lädt die Ressource und extrahiert Zitationskontexte heuristisch.
func (e *LocalExtractor) Extract(ctx context.Context, paperURL string) (*models.ExtractionResult, error) {
	log := e.Logger.With(zap.String("paper_url", paperURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, paperURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	text := string(body)
	result := e.ExtractFromText(text)
	log.Debug("Lokale Extraktion abgeschlossen",
		zap.Int("citations", len(result.Citations)))
	return result, nil
}

// ExtractFromText gewinnt Zitationskontexte aus bereits vorliegendem Text.
func (e *LocalExtractor) ExtractFromText(text string) *models.ExtractionResult {
	lines := strings.Split(text, "\n")
	refStart := findReferencesSection(lines)

	result := &models.ExtractionResult{
		Success:    true,
		PaperTitle: firstNonEmptyLine(lines),
	}

	mainText := text
	refLines := []string{}
	if refStart >= 0 {
		mainText = strings.Join(lines[:refStart], "\n")
		refLines = lines[refStart:]
	}

	for _, line := range refLines {
		line = strings.TrimSpace(line)
		if len(line) < 15 {
			continue
		}
		if !refLineYear.MatchString(line) && !refLineNumeric.MatchString(line) {
			continue
		}
		cited := models.CitationContext{
			Title:   referenceTitle(line),
			Context: contextFor(mainText, line),
		}
		if cited.Title == "" {
			continue
		}
		result.Citations = append(result.Citations, cited)
	}

	return result
}

// findReferencesSection sucht die Startzeile des Literaturverzeichnisses.
func findReferencesSection(lines []string) int {
	for _, section := range refSections {
		patterns := []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*` + section + `\s*$`),
			regexp.MustCompile(`(?i)^##?\s*` + section + `\s*$`),
			regexp.MustCompile(`(?i)^[0-9]+\.?\s*` + section + `\s*$`),
		}
		for _, pattern := range patterns {
			for i, line := range lines {
				if pattern.MatchString(strings.TrimSpace(line)) {
					return i
				}
			}
		}
	}
	return -1
}

// referenceTitle schätzt den Titel aus einer Referenzzeile: bevorzugt
// der Teil in Anführungszeichen, sonst das Segment nach dem Jahr.
func referenceTitle(line string) string {
	if m := refTitleQuoted.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	yearSplit := regexp.MustCompile(`\(\d{4}[a-z]?\)\.?\s*|\.\s*\d{4}[a-z]?\.\s*`)
	parts := yearSplit.Split(line, 2)
	if len(parts) == 2 {
		title := parts[1]
		if idx := strings.Index(title, ". "); idx > 0 {
			title = title[:idx]
		}
		return strings.TrimSpace(title)
	}
	return ""
}

// contextFor sucht einen Satz im Haupttext, der eine In-Text-Zitierung
// trägt und Wörter des Referenztitels enthält.
func contextFor(mainText, refLine string) string {
	sentences := strings.Split(mainText, ". ")
	author := strings.SplitN(refLine, ",", 2)[0]
	for _, s := range sentences {
		if !inTextCitation.MatchString(s) {
			continue
		}
		if author != "" && strings.Contains(s, author) {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// firstNonEmptyLine dient als grober Titel-Fallback.
func firstNonEmptyLine(lines []string) string {
	for _, l := range lines {
		if t := strings.TrimSpace(l); t != "" {
			return t
		}
	}
	return ""
}
