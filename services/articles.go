package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"

	"content-gate/config"
	"content-gate/models"
	"content-gate/storage"

	"go.uber.org/zap"
)

// PartialConsistencyError meldet, dass von den zwei zusammengehörigen Objekten
// (Index, Dokument) nur eines geschrieben wurde. Der Zustand ist sichtbar
// inkonsistent und wird nicht versteckt; es gibt kein Rollback.
type PartialConsistencyError struct {
	IndexOK    bool
	DocumentOK bool
	Err        error
}

func (e *PartialConsistencyError) Error() string {
	return fmt.Sprintf("partial consistency: indexOk=%t documentOk=%t: %v", e.IndexOK, e.DocumentOK, e.Err)
}

func (e *PartialConsistencyError) Unwrap() error { return e.Err }

// ArticleService verwaltet den Artikel-Index und die zugehörigen Dokumente im Store.
type ArticleService struct {
	Config *config.Config
	Store  storage.ObjectStore
	Logger *zap.Logger
}

// NewArticleService erstellt eine neue Instanz des ArticleService.
func NewArticleService(cfg *config.Config, store storage.ObjectStore, logger *zap.Logger) *ArticleService {
	return &ArticleService{Config: cfg, Store: store, Logger: logger}
}

// DocumentPath gibt den deterministischen Objekt-Pfad des Artikel-Dokuments zurück.
func (s *ArticleService) DocumentPath(slug string) string {
	return path.Join(s.Config.PostsFolder, slug+".html")
}

// List lädt den Index samt Revision. Ein fehlender Index ist kein Fehler,
// sondern der leere Start-Zustand.
func (s *ArticleService) List(ctx context.Context) (*models.ArticleIndex, string, error) {
	data, revision, err := s.Store.Get(ctx, s.Config.IndexPath)
	if errors.Is(err, storage.ErrNotFound) {
		return emptyIndex(), "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load index: %w", err)
	}

	var idx models.ArticleIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, "", fmt.Errorf("decode index: %w", err)
	}
	if idx.Articles == nil {
		idx.Articles = []models.ArticleRecord{}
	}
	if idx.Categories == nil {
		idx.Categories = []models.Category{}
	}
	return &idx, revision, nil
}

// Document lädt das gerenderte Artikel-Dokument zum Slug.
func (s *ArticleService) Document(ctx context.Context, slug string) (string, error) {
	data, _, err := s.Store.Get(ctx, s.DocumentPath(slug))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Save schreibt den Datensatz in den Index (CAS auf die zuletzt gelesene
// Revision) und danach das gerenderte Dokument. Ein Konflikt beim Index wird
// nie automatisch wiederholt: der Aufrufer muss neu laden und erneut speichern.
// Schlägt erst das Dokument fehl, bleibt der Index trotzdem geschrieben und der
// Fehler ist ein PartialConsistencyError.
//
// Slug-Kollisionen (zwei IDs, ein Dokument-Pfad) werden nicht erkannt; das
// Dokument des späteren Schreibers ersetzt das des früheren.
func (s *ArticleService) Save(ctx context.Context, record models.ArticleRecord, renderedDoc string, isNew bool) (*models.SaveResult, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	log := s.Logger.With(zap.String("id", record.ID), zap.String("slug", record.Slug))

	idx, revision, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	replaced := false
	for i := range idx.Articles {
		if idx.Articles[i].ID == record.ID {
			idx.Articles[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Articles = append([]models.ArticleRecord{record}, idx.Articles...)
	}
	sortByPublishDate(idx.Articles)

	payload, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}

	message := fmt.Sprintf("Update article %s", record.ID)
	if isNew {
		message = fmt.Sprintf("Add article %s", record.ID)
	}
	if _, err := s.Store.Put(ctx, s.Config.IndexPath, payload, message, revision); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			log.Warn("Index-Konflikt beim Speichern, Operation abgebrochen")
		}
		return nil, err
	}
	res := &models.SaveResult{Index: idx, IndexOK: true}

	// Dokument-Revision ermitteln; ein fehlendes Dokument ist der normale
	// Anlege-Fall, kein Fehler.
	docPath := s.DocumentPath(record.Slug)
	_, docRevision, err := s.Store.Get(ctx, docPath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("Dokument-Revision nicht ermittelbar, Index bereits geschrieben", zap.Error(err))
		return res, &PartialConsistencyError{IndexOK: true, Err: err}
	}
	if _, err := s.Store.Put(ctx, docPath, []byte(renderedDoc), message, docRevision); err != nil {
		log.Error("Dokument-Schreiben fehlgeschlagen, Index bereits geschrieben", zap.Error(err))
		return res, &PartialConsistencyError{IndexOK: true, Err: err}
	}
	res.DocumentOK = true

	log.Info("Artikel gespeichert", zap.Bool("new", isNew), zap.Int("index_size", len(idx.Articles)))
	return res, nil
}

// Delete entfernt den Datensatz aus dem Index und danach, best-effort, das
// Dokument. Eine unbekannte ID ist ein No-Op, ein fehlendes Dokument ebenso.
func (s *ArticleService) Delete(ctx context.Context, id, slug string) (*models.DeleteResult, error) {
	log := s.Logger.With(zap.String("id", id), zap.String("slug", slug))

	idx, revision, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	found := false
	kept := idx.Articles[:0]
	for _, a := range idx.Articles {
		if a.ID == id {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if found {
		idx.Articles = kept
		payload, err := json.MarshalIndent(idx, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode index: %w", err)
		}
		message := fmt.Sprintf("Delete article %s", id)
		if _, err := s.Store.Put(ctx, s.Config.IndexPath, payload, message, revision); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				log.Warn("Index-Konflikt beim Löschen, Operation abgebrochen")
			}
			return nil, err
		}
	} else {
		log.Info("ID nicht im Index, Löschen ist ein No-Op")
	}
	res := &models.DeleteResult{IndexOK: true}

	if slug == "" {
		res.DocumentOK = true
		return res, nil
	}
	docPath := s.DocumentPath(slug)
	_, docRevision, err := s.Store.Get(ctx, docPath)
	if errors.Is(err, storage.ErrNotFound) {
		res.DocumentOK = true
		return res, nil
	}
	if err != nil {
		log.Warn("Dokument-Revision nicht ermittelbar", zap.Error(err))
		return res, &PartialConsistencyError{IndexOK: true, Err: err}
	}
	if err := s.Store.Delete(ctx, docPath, docRevision, fmt.Sprintf("Delete article %s", id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn("Dokument-Löschen fehlgeschlagen, Index bereits aktualisiert", zap.Error(err))
		return res, &PartialConsistencyError{IndexOK: true, Err: err}
	}
	res.DocumentOK = true

	log.Info("Artikel gelöscht")
	return res, nil
}

// sortByPublishDate sortiert absteigend nach publishDate. Die Sortierung ist
// stabil: gleiche Daten behalten ihre bisherige relative Reihenfolge. Der
// Vergleich ist lexikografisch, was für ISO-8601-Zeitstempel der Zeit-Ordnung
// entspricht.
func sortByPublishDate(articles []models.ArticleRecord) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishDate > articles[j].PublishDate
	})
}

func emptyIndex() *models.ArticleIndex {
	return &models.ArticleIndex{
		Articles:   []models.ArticleRecord{},
		Categories: []models.Category{},
	}
}
