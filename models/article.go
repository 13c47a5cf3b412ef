package models

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidRecord steht hinter allen Validierungsfehlern an der Gateway-Grenze.
var ErrInvalidRecord = errors.New("invalid record")

// Artikel-Status
const (
	StatusPublished = "published"
	StatusDraft     = "draft"
)

// ArticleRecord repräsentiert einen Artikel-Eintrag im Blog-Index.
type ArticleRecord struct {
	ID              string   `json:"id"`
	Slug            string   `json:"slug"`
	Title           string   `json:"title"`
	Excerpt         string   `json:"excerpt,omitempty"`
	Category        string   `json:"category,omitempty"`
	CategoryDisplay string   `json:"categoryDisplay,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Image           string   `json:"image,omitempty"`
	Author          string   `json:"author,omitempty"`

	// ISO-8601-Zeitstempel; der Gateway erzwingt keine Ordnung zwischen beiden
	PublishDate  string `json:"publishDate"`
	ModifiedDate string `json:"modifiedDate,omitempty"`

	ReadTime string `json:"readTime,omitempty"`
	Views    int    `json:"views"`
	Featured bool   `json:"featured"`
	Trending bool   `json:"trending"`
	Status   string `json:"status"`
}

// Category beschreibt eine Kategorie im Index. Die Liste wird vom Artikel-Pfad
// nicht verändert, nur mitgeschrieben.
type Category struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// ArticleIndex ist das eine Index-Objekt im Store: alle Artikel plus Kategorien.
type ArticleIndex struct {
	Articles   []ArticleRecord `json:"articles"`
	Categories []Category      `json:"categories"`
}

// SaveResult meldet den Ausgang der zweistufigen Schreib-Operation pro Objekt,
// damit Aufrufer einen teilweise inkonsistenten Zustand erkennen können.
type SaveResult struct {
	Index      *ArticleIndex `json:"-"`
	IndexOK    bool          `json:"indexOk"`
	DocumentOK bool          `json:"documentOk"`
}

// DeleteResult meldet den Ausgang einer Lösch-Operation pro Objekt.
type DeleteResult struct {
	IndexOK    bool `json:"indexOk"`
	DocumentOK bool `json:"documentOk"`
}

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validate prüft den Datensatz an der Gateway-Grenze. Die Eindeutigkeit des
// Slugs wird bewusst nicht geprüft (Kollisionen überschreiben das Dokument).
func (a *ArticleRecord) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: id missing", ErrInvalidRecord)
	}
	if a.Slug == "" {
		return fmt.Errorf("%w: slug missing", ErrInvalidRecord)
	}
	if !slugPattern.MatchString(a.Slug) {
		return fmt.Errorf("%w: slug %q is not URL-safe", ErrInvalidRecord, a.Slug)
	}
	if a.Title == "" {
		return fmt.Errorf("%w: title missing", ErrInvalidRecord)
	}
	if a.Status != StatusPublished && a.Status != StatusDraft {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, a.Status)
	}
	if a.PublishDate == "" {
		return fmt.Errorf("%w: publishDate missing", ErrInvalidRecord)
	}
	return nil
}
