package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"content-gate/models"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

// SessionState beschreibt den Zustand einer Bearbeitungssitzung.
type SessionState int

const (
	StateIdle SessionState = iota
	StateEditing
	StateSaving
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEditing:
		return "editing"
	case StateSaving:
		return "saving"
	}
	return "unknown"
}

// bodyCacheSize begrenzt den Cache zurückgewonnener Artikel-Bodies.
const bodyCacheSize = 32

// EditingSession hält den lokalen Zustand eines einzelnen Autoren-Tabs:
// die gecachte Kopie des Index, den gerade bearbeiteten Datensatz und die
// Tag-Arbeitsmenge. Eine Instanz gehört genau einer Sitzung und ist nicht
// für nebenläufige Nutzung gedacht.
type EditingSession struct {
	Articles   []models.ArticleRecord
	Categories []models.Category

	articles *ArticleService
	logger   *zap.Logger

	state   SessionState
	editing *models.ArticleRecord // nil bedeutet: neuer Artikel
	tags    []string
	body    string

	bodyCache *lru.Cache // Slug -> zurückgewonnener Body
}

// NewEditingSession erstellt eine frische Sitzung im Zustand Idle.
func NewEditingSession(articles *ArticleService, logger *zap.Logger) *EditingSession {
	cache, _ := lru.New(bodyCacheSize)
	return &EditingSession{
		articles:  articles,
		logger:    logger,
		state:     StateIdle,
		bodyCache: cache,
	}
}

// State gibt den aktuellen Sitzungszustand zurück.
func (s *EditingSession) State() SessionState { return s.state }

// Editing gibt den gerade bearbeiteten Datensatz zurück; nil heißt "neuer Artikel".
func (s *EditingSession) Editing() *models.ArticleRecord { return s.editing }

// Body gibt den aktuellen Autoren-Body zurück.
func (s *EditingSession) Body() string { return s.body }

// SetBody ersetzt den Autoren-Body.
func (s *EditingSession) SetBody(body string) { s.body = body }

// Refresh lädt die lokale Index-Kopie komplett neu.
func (s *EditingSession) Refresh(ctx context.Context) error {
	idx, _, err := s.articles.List(ctx)
	if err != nil {
		return err
	}
	s.Articles = idx.Articles
	s.Categories = idx.Categories
	return nil
}

// BeginNew startet die Bearbeitung eines neuen Artikels.
func (s *EditingSession) BeginNew() error {
	if s.state != StateIdle {
		return fmt.Errorf("session: cannot start editing in state %s", s.state)
	}
	s.editing = nil
	s.tags = nil
	s.body = ""
	s.state = StateEditing
	return nil
}

// BeginEdit startet die Bearbeitung eines vorhandenen Artikels. Das Dokument
// wird best-effort geladen, um den Body zurückzugewinnen; schlägt das fehl,
// bleibt der Body leer und die Bearbeitung beginnt trotzdem.
func (s *EditingSession) BeginEdit(ctx context.Context, id string) (*models.ArticleRecord, error) {
	if s.state != StateIdle {
		return nil, fmt.Errorf("session: cannot start editing in state %s", s.state)
	}

	var record *models.ArticleRecord
	for i := range s.Articles {
		if s.Articles[i].ID == id {
			copied := s.Articles[i]
			record = &copied
			break
		}
	}
	if record == nil {
		return nil, fmt.Errorf("session: unknown article %q", id)
	}

	s.editing = record
	s.tags = normalizeTags(record.Tags)
	s.body = ""

	if cached, ok := s.bodyCache.Get(record.Slug); ok {
		s.body = cached.(string)
	} else {
		doc, err := s.articles.Document(ctx, record.Slug)
		if err != nil {
			s.logger.Warn("Dokument nicht ladbar, Body bleibt leer",
				zap.String("slug", record.Slug), zap.Error(err))
		} else if body, ok := RecoverBody(doc); ok {
			s.body = body
			s.bodyCache.Add(record.Slug, body)
		}
	}

	s.state = StateEditing
	return record, nil
}

// AddTag nimmt einen Tag in die Arbeitsmenge auf: kleingeschrieben, getrimmt,
// dedupliziert. Die Menge gilt nur für das aktuelle Bearbeitungsziel.
func (s *EditingSession) AddTag(tag string) {
	t := strings.ToLower(strings.TrimSpace(tag))
	if t == "" {
		return
	}
	for _, existing := range s.tags {
		if existing == t {
			return
		}
	}
	s.tags = append(s.tags, t)
}

// RemoveTag entfernt einen Tag aus der Arbeitsmenge.
func (s *EditingSession) RemoveTag(tag string) {
	t := strings.ToLower(strings.TrimSpace(tag))
	for i, existing := range s.tags {
		if existing == t {
			s.tags = append(s.tags[:i], s.tags[i+1:]...)
			return
		}
	}
}

// Tags gibt eine Kopie der aktuellen Tag-Arbeitsmenge zurück.
func (s *EditingSession) Tags() []string {
	return append([]string(nil), s.tags...)
}

// Save rendert das Dokument und treibt das Gateway. Erfolg wie Misserfolg
// führen zurück nach Idle; Fehler werden nie intern wiederholt, der Operator
// entscheidet über den nächsten Versuch. Bei Erfolg werden die lokalen Edits
// verworfen und die Index-Kopie komplett ersetzt.
func (s *EditingSession) Save(ctx context.Context, record models.ArticleRecord) (*models.SaveResult, error) {
	if s.state != StateEditing {
		return nil, fmt.Errorf("session: cannot save in state %s", s.state)
	}
	s.state = StateSaving

	isNew := s.editing == nil
	if isNew && record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Slug == "" {
		record.Slug = Slugify(record.Title)
	}
	record.Tags = append([]string(nil), s.tags...)
	now := time.Now().UTC().Format(time.RFC3339)
	if record.PublishDate == "" {
		record.PublishDate = now
	}
	record.ModifiedDate = now

	doc, err := RenderDocument(record, s.body)
	if err != nil {
		s.state = StateIdle
		return nil, err
	}

	res, err := s.articles.Save(ctx, record, doc, isNew)
	if err != nil {
		// Bei teilweiser Konsistenz ist der Index bereits geschrieben; die
		// lokale Kopie spiegelt das, die Edits bleiben für den Operator erhalten.
		if res != nil && res.IndexOK && res.Index != nil {
			s.Articles = res.Index.Articles
			s.Categories = res.Index.Categories
		}
		s.state = StateIdle
		return res, err
	}

	s.bodyCache.Add(record.Slug, s.body)
	s.Articles = res.Index.Articles
	s.Categories = res.Index.Categories
	s.editing = nil
	s.tags = nil
	s.body = ""
	s.state = StateIdle
	return res, nil
}

// Cancel verwirft die laufende Bearbeitung und kehrt nach Idle zurück.
func (s *EditingSession) Cancel() {
	s.editing = nil
	s.tags = nil
	s.body = ""
	s.state = StateIdle
}

// Delete löscht einen Artikel über das Gateway und lädt danach die lokale
// Index-Kopie neu. Der Slug kommt aus der gecachten Liste.
func (s *EditingSession) Delete(ctx context.Context, id string) (*models.DeleteResult, error) {
	if s.state != StateIdle {
		return nil, fmt.Errorf("session: cannot delete in state %s", s.state)
	}

	slug := ""
	for i := range s.Articles {
		if s.Articles[i].ID == id {
			slug = s.Articles[i].Slug
			break
		}
	}

	res, err := s.articles.Delete(ctx, id, slug)
	if err != nil {
		return res, err
	}
	if slug != "" {
		s.bodyCache.Remove(slug)
	}
	if err := s.Refresh(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Filter liefert die lokal gecachte Liste, gefiltert nach Kategorie und einem
// Suchbegriff über Titel, Teaser und Tags. Leere Filter lassen alles durch.
func (s *EditingSession) Filter(category, query string) []models.ArticleRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []models.ArticleRecord{}
	for _, a := range s.Articles {
		if category != "" && a.Category != category {
			continue
		}
		if q != "" && !matchesQuery(a, q) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func matchesQuery(a models.ArticleRecord, q string) bool {
	if strings.Contains(strings.ToLower(a.Title), q) {
		return true
	}
	if strings.Contains(strings.ToLower(a.Excerpt), q) {
		return true
	}
	for _, t := range a.Tags {
		if strings.Contains(t, q) {
			return true
		}
	}
	return false
}

// Page schneidet eine 1-basierte Seite fester Größe aus der Liste.
func Page(list []models.ArticleRecord, page, size int) []models.ArticleRecord {
	if page < 1 || size < 1 {
		return []models.ArticleRecord{}
	}
	start := (page - 1) * size
	if start >= len(list) {
		return []models.ArticleRecord{}
	}
	end := start + size
	if end > len(list) {
		end = len(list)
	}
	return list[start:end]
}

// normalizeTags bringt Tags in die kanonische Form: klein, getrimmt, dedupliziert.
func normalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
