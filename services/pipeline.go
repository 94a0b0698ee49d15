package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"paper-graph/config"
	"paper-graph/models"
	"paper-graph/providers"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AnalysisService orchestriert die komplette Pipeline: URLs -> parallele
// Extraktion -> Klassifikation pro Zitationskontext (in Batches mit
// fester Pause wegen externer Rate-Limits) -> Assembler -> Persistenz.
// Per-Item-Fehler werden durch Weglassen erholt und brechen nie den Batch.
type AnalysisService struct {
	Config     *config.Config
	Logger     *zap.Logger
	Extractor  providers.Extractor
	Classifier providers.Classifier
	Cache      *Cache
	Assembler  *GraphAssembler
	Graphs     *GraphService
}

// NewAnalysisService erstellt den Pipeline-Service.
func NewAnalysisService(cfg *config.Config, logger *zap.Logger, ext providers.Extractor, cls providers.Classifier, cache *Cache, graphs *GraphService) *AnalysisService {
	return &AnalysisService{
		Config:     cfg,
		Logger:     logger,
		Extractor:  ext,
		Classifier: cls,
		Cache:      cache,
		Assembler:  NewGraphAssembler(logger),
		Graphs:     graphs,
	}
}

// classifyTask ist eine anstehende Klassifikation zwischen zwei Papers
// des Batches.
type classifyTask struct {
	fromID      string
	toID        string
	citingTitle string
	citedTitle  string
	context     string
}

// AnalyzePapers fährt die Pipeline für einen Batch von Paper-URLs und
// persistiert das Ergebnis als neue Session.
func (s *AnalysisService) AnalyzePapers(ctx context.Context, userID, title string, urls []string) (*SaveResult, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("no paper urls provided")
	}
	if len(urls) > s.Config.MaxBatchPapers {
		return nil, fmt.Errorf("batch too large: %d papers (max %d)", len(urls), s.Config.MaxBatchPapers)
	}

	extractions := s.extractAll(ctx, urls)

	// Ein Knoten pro eingereichter URL — auch ohne Zitate und auch wenn
	// die Extraktion fehlschlug, bleibt das Paper selbst im Graphen.
	nodes := make([]models.GraphNode, 0, len(urls))
	titles := make(map[string]string, len(urls))
	for _, url := range urls {
		node := models.GraphNode{ID: url, URL: url, Label: url}
		if result, ok := extractions[url]; ok && result.PaperTitle != "" {
			node.Title = result.PaperTitle
			node.Label = result.PaperTitle
		}
		titles[url] = node.Label
		nodes = append(nodes, node)
	}

	tasks := s.matchCitations(urls, extractions, titles)
	rels := s.classifyAll(ctx, tasks)

	graph := s.Assembler.Assemble(nodes, rels)
	return s.Graphs.SaveAnalysis(ctx, userID, title, nil, graph, urls)
}

// extractAll holt die Zitationskontexte für alle URLs parallel, mit
// Cache davor und begrenztem Fan-Out. Die Reihenfolge der Fertigstellung
// ist nicht garantiert; die Assemblierung hängt nicht davon ab.
func (s *AnalysisService) extractAll(ctx context.Context, urls []string) map[string]*models.ExtractionResult {
	results := make(map[string]*models.ExtractionResult, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.Config.ExtractConcurrency)

	for _, url := range urls {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(url string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if cached, ok := s.Cache.Get(url); ok {
				if result, ok := cached.(*models.ExtractionResult); ok {
					mu.Lock()
					results[url] = result
					mu.Unlock()
					return
				}
			}

			result, err := s.Extractor.Extract(ctx, url)
			if err != nil {
				// Per-Item-Fehler: Paper bleibt als Knoten, nur ohne Kanten
				s.Logger.Warn("Extraktion fehlgeschlagen",
					zap.String("paper_url", url), zap.Error(err))
				return
			}
			s.Cache.Set(url, result)
			mu.Lock()
			results[url] = result
			mu.Unlock()
		}(url)
	}

	wg.Wait()
	return results
}

// matchCitations ordnet jeden Zitationskontext einem anderen Paper des
// Batches zu (Titelvergleich nach Unicode-Faltung). Kontexte ohne Treffer
// erzeugen keine Klassifikation.
func (s *AnalysisService) matchCitations(urls []string, extractions map[string]*models.ExtractionResult, titles map[string]string) []classifyTask {
	folded := make(map[string]string, len(urls))
	for _, url := range urls {
		folded[url] = foldTitle(titles[url])
	}

	var tasks []classifyTask
	for _, citing := range urls {
		result, ok := extractions[citing]
		if !ok {
			continue
		}
		for _, citation := range result.Citations {
			citedFold := foldTitle(citation.Title)
			if citedFold == "" {
				continue
			}
			for _, cited := range urls {
				if cited == citing {
					continue
				}
				if !titlesMatch(citedFold, folded[cited]) {
					continue
				}
				tasks = append(tasks, classifyTask{
					fromID:      citing,
					toID:        cited,
					citingTitle: titles[citing],
					citedTitle:  titles[cited],
					context:     citationContext(citation),
				})
				break
			}
		}
	}

	s.Logger.Info("Zitationskontexte zugeordnet",
		zap.Int("papers", len(urls)),
		zap.Int("classification_tasks", len(tasks)))
	return tasks
}

// classifyAll klassifiziert die Kontexte in Batches; zwischen den Batches
// liegt eine feste Pause (Vertragsteil der Pipeline, externes Rate-Limit).
// Jeder Fehler lässt die betroffene Kante weg — fail closed.
func (s *AnalysisService) classifyAll(ctx context.Context, tasks []classifyTask) []models.InferredRelationship {
	batchSize := s.Config.ClassifyBatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	var rels []models.InferredRelationship
	var mu sync.Mutex

	for start := 0; start < len(tasks); start += batchSize {
		end := start + batchSize
		if end > len(tasks) {
			end = len(tasks)
		}

		var wg sync.WaitGroup
		for _, task := range tasks[start:end] {
			wg.Add(1)
			go func(task classifyTask) {
				defer wg.Done()

				classifyCtx, cancel := context.WithTimeout(ctx, s.Config.ClassifierTimeout)
				defer cancel()

				result, err := s.Classifier.Classify(classifyCtx, providers.ClassifyRequest{
					CitingTitle: task.citingTitle,
					CitedTitle:  task.citedTitle,
					Context:     task.context,
				})
				if err != nil {
					s.Logger.Warn("Klassifikation fehlgeschlagen, Kante entfällt",
						zap.String("from", task.fromID),
						zap.String("to", task.toID),
						zap.Error(err))
					return
				}

				mu.Lock()
				rels = append(rels, models.InferredRelationship{
					FromID:         task.fromID,
					ToID:           task.toID,
					Classification: *result,
				})
				mu.Unlock()
			}(task)
		}
		wg.Wait()

		if end < len(tasks) {
			time.Sleep(s.Config.ClassifyBatchDelay)
		}
	}

	return rels
}

// citationContext setzt den vollständigen Kontextstring zusammen.
func citationContext(c models.CitationContext) string {
	parts := []string{}
	if c.ContextBefore != "" {
		parts = append(parts, c.ContextBefore)
	}
	if c.Context != "" {
		parts = append(parts, c.Context)
	}
	if c.ContextAfter != "" {
		parts = append(parts, c.ContextAfter)
	}
	return strings.Join(parts, " ")
}

// foldTitle normalisiert einen Titel für den Vergleich: Unicode-NFD,
// diakritische Zeichen raus, Kleinschreibung, nur Alphanumerik.
func foldTitle(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// titlesMatch akzeptiert exakte Gleichheit oder Enthaltensein, sofern der
// kürzere Titel lang genug ist, um Zufallstreffer auszuschließen.
func titlesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	shorter := a
	if len(b) < len(a) {
		shorter = b
	}
	if len(shorter) < 10 {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
