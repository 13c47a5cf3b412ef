package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"content-gate/config"
	"content-gate/models"
	"content-gate/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// imageExtensions ist die Allow-List für die Ordner-Auflistung.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".avif": true,
}

// AssetService verwaltet Binär-Objekte (Bilder) im Store. Assets haben keinen
// Index-Eintrag und kein Begleit-Dokument.
type AssetService struct {
	Config *config.Config
	Store  storage.ObjectStore
	Logger *zap.Logger
}

// NewAssetService erstellt eine neue Instanz des AssetService.
func NewAssetService(cfg *config.Config, store storage.ObjectStore, logger *zap.Logger) *AssetService {
	return &AssetService{Config: cfg, Store: store, Logger: logger}
}

// List zählt den Ordner auf, gefiltert auf Bild-Endungen und absteigend nach
// Name sortiert. Durch das Datums-Präfix im Namensschema stehen damit die
// neuesten Uploads vorne; das ist Konvention, keine Garantie.
func (s *AssetService) List(ctx context.Context, folder string) ([]models.AssetInfo, error) {
	if folder == "" {
		folder = s.Config.UploadsFolder
	}
	entries, err := s.Store.List(ctx, folder)
	if errors.Is(err, storage.ErrNotFound) {
		return []models.AssetInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	assets := []models.AssetInfo{}
	for _, e := range entries {
		if e.Type != "" && e.Type != "file" {
			continue
		}
		if !imageExtensions[strings.ToLower(path.Ext(e.Name))] {
			continue
		}
		assets = append(assets, models.AssetInfo{
			Name:     e.Name,
			Path:     e.Path,
			URL:      s.publicURL(e.Path),
			Size:     e.Size,
			Revision: e.SHA,
		})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name > assets[j].Name })
	return assets, nil
}

// Upload legt den Inhalt unter einem kollisionssicheren Namen ab. Existiert
// unter dem Pfad wider Erwarten schon ein Objekt, wird dessen Revision als
// erwartete Revision mitgegeben.
func (s *AssetService) Upload(ctx context.Context, folder, originalName string, content []byte) (*models.UploadResult, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("upload: empty content")
	}
	if originalName == "" {
		return nil, fmt.Errorf("upload: missing filename")
	}
	if folder == "" {
		folder = s.Config.UploadsFolder
	}

	name := GenerateAssetName(originalName, time.Now())
	objectPath := path.Join(folder, name)

	_, revision, err := s.Store.Get(ctx, objectPath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("upload probe: %w", err)
	}
	if _, err := s.Store.Put(ctx, objectPath, content, fmt.Sprintf("Upload asset %s", name), revision); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	s.Logger.Info("Asset hochgeladen",
		zap.String("name", name), zap.String("path", objectPath), zap.Int("size", len(content)))
	return &models.UploadResult{Name: name, Path: objectPath, URL: s.publicURL(objectPath)}, nil
}

func (s *AssetService) publicURL(objectPath string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(s.Config.PublicBaseURL, "/"), objectPath)
}

// GenerateAssetName erzeugt einen kollisionssicheren Objektnamen aus dem
// Original-Namen, einem Zeitstempel und einem zufälligen Kurz-Token.
func GenerateAssetName(originalName string, now time.Time) string {
	ext := strings.ToLower(path.Ext(originalName))
	base := Slugify(strings.TrimSuffix(originalName, path.Ext(originalName)))
	if base == "" {
		base = "upload"
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s%s", base, now.UTC().Format("20060102-150405"), token, ext)
}

// Slugify reduziert einen Namen auf Kleinbuchstaben, Ziffern und Bindestriche.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true // führende Bindestriche unterdrücken
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
