package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"paper-graph/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IDMapping ist die transiente Abbildung ephemere Knoten-ID -> dauerhafte
// Paper-ID eines Persistenzaufrufs. Aufgelöst wird zuerst über die exakte
// URL, dann über die beim Upsert festgehaltene ID-Korrespondenz.
type IDMapping struct {
	ByNodeID map[string]uint
	ByURL    map[string]uint
}

// Resolve löst eine ephemere Knoten-ID auf.
func (m *IDMapping) Resolve(nodeID string) (uint, bool) {
	if id, ok := m.ByURL[nodeID]; ok {
		return id, true
	}
	id, ok := m.ByNodeID[nodeID]
	return id, ok
}

// PaperResolver ist der Upsert-Layer: er bildet externe Paper-Identität
// (URL) auf dauerhafte Paper-Entitäten ab. Eine Instanz gilt für genau
// einen Persistenzaufruf; innerhalb davon serialisiert ein per-URL-Lock
// Upserts derselben URL, während verschiedene Papers parallel laufen.
type PaperResolver struct {
	DB     *gorm.DB
	Logger *zap.Logger

	concurrency int

	lockMu   sync.Mutex
	urlLocks map[string]*sync.Mutex
}

// NewPaperResolver erstellt einen Resolver für einen Persistenzaufruf.
func NewPaperResolver(db *gorm.DB, logger *zap.Logger, concurrency int) *PaperResolver {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &PaperResolver{
		DB:          db,
		Logger:      logger,
		concurrency: concurrency,
		urlLocks:    make(map[string]*sync.Mutex),
	}
}

// UpsertGraphPapers upserted alle Knoten des Graphen und baut das
// ID-Mapping. Ein Schreibfehler ist strukturell und bricht den gesamten
// Aufruf ab — alles Nachfolgende hängt von den dauerhaften IDs ab.
func (r *PaperResolver) UpsertGraphPapers(ctx context.Context, nodes []models.GraphNode) (*IDMapping, error) {
	mapping := &IDMapping{
		ByNodeID: make(map[string]uint, len(nodes)),
		ByURL:    make(map[string]uint, len(nodes)),
	}

	var mapMu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, node := range nodes {
		node := node
		g.Go(func() error {
			paperID, url, err := r.upsertOne(ctx, node)
			if err != nil {
				return err
			}
			mapMu.Lock()
			mapping.ByNodeID[node.ID] = paperID
			if url != "" {
				mapping.ByURL[url] = paperID
			}
			mapMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mapping, nil
}

// upsertOne legt ein Paper an oder überschreibt alle veränderlichen Felder
// (last-write-wins, kein Feld-Merge). Gelöscht wird hier nie.
func (r *PaperResolver) upsertOne(ctx context.Context, node models.GraphNode) (uint, string, error) {
	url := strings.TrimSpace(node.URL)
	if url == "" && strings.HasPrefix(node.ID, "http") {
		// Knoten-IDs sind häufig die URL selbst
		url = node.ID
	}
	if url == "" {
		// Ohne echte URL dient die Knoten-ID als synthetische Identität;
		// sie läuft durch denselben Upsert-Pfad, damit erneutes Speichern
		// aktualisiert statt am Unique-Index zu scheitern
		url = "node://" + node.ID
	}

	lock := r.lockFor(url)
	lock.Lock()
	defer lock.Unlock()

	var existing models.Paper
	err := r.DB.WithContext(ctx).Where("url = ?", url).First(&existing).Error
	if err == nil {
		updates := mutableFields(node)
		if err := r.DB.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return 0, "", err
		}
		r.Logger.Debug("Paper aktualisiert", zap.String("url", url), zap.Uint("paper_id", existing.ID))
		return existing.ID, url, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", err
	}

	paper := paperFromNode(node, url)
	if err := r.DB.WithContext(ctx).Create(&paper).Error; err != nil {
		return 0, "", err
	}
	r.Logger.Debug("Paper angelegt", zap.String("url", url), zap.Uint("paper_id", paper.ID))
	return paper.ID, url, nil
}

// lockFor liefert den Mutex für eine URL innerhalb dieses Aufrufs.
func (r *PaperResolver) lockFor(url string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.urlLocks[url]
	if !ok {
		lock = &sync.Mutex{}
		r.urlLocks[url] = lock
	}
	return lock
}

// paperFromNode baut die Paper-Entität aus dem Knoten-Payload.
func paperFromNode(node models.GraphNode, url string) models.Paper {
	return models.Paper{
		URL:           url,
		Title:         nodeTitle(node),
		Authors:       jsonList(node.Authors),
		Abstract:      node.Abstract,
		Introduction:  node.Introduction,
		FullText:      node.FullText,
		DOI:           node.DOI,
		ArxivID:       node.ArxivID,
		PublishedDate: parseDate(node.PublishedDate),
		Tags:          jsonList(node.Tags),
	}
}

// mutableFields liefert das vollständige Überschreib-Set für den Update-
// Pfad; leere Werte überschreiben bewusst (last-write-wins).
func mutableFields(node models.GraphNode) map[string]any {
	return map[string]any{
		"title":          nodeTitle(node),
		"authors":        jsonList(node.Authors),
		"abstract":       node.Abstract,
		"introduction":   node.Introduction,
		"full_text":      node.FullText,
		"doi":            node.DOI,
		"arxiv_id":       node.ArxivID,
		"published_date": parseDate(node.PublishedDate),
		"tags":           jsonList(node.Tags),
	}
}

func nodeTitle(node models.GraphNode) string {
	if node.Title != "" {
		return node.Title
	}
	return node.Label
}

func jsonList(values []string) datatypes.JSON {
	if len(values) == 0 {
		return nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
