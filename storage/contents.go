package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"content-gate/config"

	"go.uber.org/zap"
)

// ErrNotFound meldet ein fehlendes Objekt.
var ErrNotFound = errors.New("storage: object not found")

// ErrConflict meldet eine abgelehnte Schreib-Operation, weil die erwartete
// Revision nicht mehr der Live-Revision entspricht. Wird nie automatisch
// wiederholt.
var ErrConflict = errors.New("storage: revision mismatch")

// ObjectStore ist der Vertrag gegen die pfadadressierte, revisionierte Objekt-API.
type ObjectStore interface {
	Get(ctx context.Context, path string) (content []byte, revision string, err error)
	List(ctx context.Context, path string) ([]Entry, error)
	Put(ctx context.Context, path string, content []byte, message, revision string) (newRevision string, err error)
	Delete(ctx context.Context, path, revision, message string) error
}

// Entry ist ein Eintrag einer Ordner-Auflistung.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// httpClient wird für alle Anfragen an die Objekt-API verwendet.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// retryBackoff ist die Basis-Wartezeit zwischen zwei Versuchen.
var retryBackoff = 500 * time.Millisecond

// Client spricht die Contents-API: Base64-Inhalte, Bearer-Credential,
// CAS über den sha-Parameter. Transiente Fehler (Timeout, 5xx) werden mit
// begrenzten Versuchen wiederholt, 4xx nie.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

var _ ObjectStore = &Client{}

// NewClient erstellt einen neuen Client für die Objekt-API.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{Config: cfg, Logger: logger}
}

type contentResponse struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Size    int64  `json:"size"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/contents/%s", c.Config.StoreBaseURL(), path)
}

// do führt eine Anfrage mit begrenzten Wiederholungen aus. Wiederholt wird nur
// bei Transportfehlern und 5xx; jede 4xx-Antwort geht unverändert zurück.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	attempts := c.Config.StoreMaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.Config.StoreToken)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, ctx.Err()
			}
			lastErr = err
			c.Logger.Warn("Transportfehler bei Store-Anfrage",
				zap.String("method", method), zap.String("url", url),
				zap.Int("attempt", attempt), zap.Error(err))
		} else {
			data, readErr := readBody(resp)
			if readErr != nil {
				lastErr = readErr
			} else if resp.StatusCode >= 500 {
				lastErr = fmt.Errorf("store returned status %d", resp.StatusCode)
				c.Logger.Warn("Serverfehler bei Store-Anfrage",
					zap.String("method", method), zap.String("url", url),
					zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
			} else {
				return resp.StatusCode, data, nil
			}
		}

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * retryBackoff):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
	return 0, nil, fmt.Errorf("store request failed after %d attempts: %w", attempts, lastErr)
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Get lädt ein Objekt samt Revisions-Tag. Ein fehlendes Objekt liefert ErrNotFound.
func (c *Client) Get(ctx context.Context, path string) ([]byte, string, error) {
	status, data, err := c.do(ctx, http.MethodGet, c.url(path)+"?ref="+c.Config.StoreBranch, nil)
	if err != nil {
		return nil, "", err
	}
	switch status {
	case http.StatusOK:
		// Verzeichnisse antworten mit einem Array, dafür gibt es List.
		if len(bytes.TrimSpace(data)) > 0 && bytes.TrimSpace(data)[0] == '[' {
			return nil, "", fmt.Errorf("get %s: path is a directory", path)
		}
		var cr contentResponse
		if err := json.Unmarshal(data, &cr); err != nil {
			return nil, "", fmt.Errorf("get %s: decode response: %w", path, err)
		}
		content, err := decodeContent(cr.Content)
		if err != nil {
			return nil, "", fmt.Errorf("get %s: decode content: %w", path, err)
		}
		return content, cr.SHA, nil
	case http.StatusNotFound:
		return nil, "", ErrNotFound
	default:
		return nil, "", fmt.Errorf("get %s: unexpected status %d", path, status)
	}
}

// List liefert die Einträge eines Ordners. Ein fehlender Ordner liefert ErrNotFound.
func (c *Client) List(ctx context.Context, path string) ([]Entry, error) {
	status, data, err := c.do(ctx, http.MethodGet, c.url(path)+"?ref="+c.Config.StoreBranch, nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("list %s: decode response: %w", path, err)
		}
		return entries, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("list %s: unexpected status %d", path, status)
	}
}

// Put schreibt ein Objekt. Mit Revision ist der Aufruf ein CAS: weicht die
// Live-Revision ab, kommt ErrConflict zurück. Ohne Revision wird das Objekt
// neu angelegt.
func (c *Client) Put(ctx context.Context, path string, content []byte, message, revision string) (string, error) {
	body, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.Config.StoreBranch,
		SHA:     revision,
	})
	if err != nil {
		return "", err
	}
	status, data, err := c.do(ctx, http.MethodPut, c.url(path), body)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		var pr putResponse
		if err := json.Unmarshal(data, &pr); err != nil {
			return "", fmt.Errorf("put %s: decode response: %w", path, err)
		}
		return pr.Content.SHA, nil
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return "", fmt.Errorf("put %s: %w", path, ErrConflict)
	case http.StatusNotFound:
		return "", fmt.Errorf("put %s: %w", path, ErrNotFound)
	default:
		return "", fmt.Errorf("put %s: unexpected status %d", path, status)
	}
}

// Delete entfernt ein Objekt; die Revision ist Pflicht (CAS).
func (c *Client) Delete(ctx context.Context, path, revision, message string) error {
	body, err := json.Marshal(deleteRequest{
		Message: message,
		SHA:     revision,
		Branch:  c.Config.StoreBranch,
	})
	if err != nil {
		return err
	}
	status, _, err := c.do(ctx, http.MethodDelete, c.url(path), body)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("delete %s: %w", path, ErrConflict)
	default:
		return fmt.Errorf("delete %s: unexpected status %d", path, status)
	}
}

// decodeContent dekodiert Base64-Inhalte; die API bricht lange Inhalte mit
// Zeilenumbrüchen um, die vorher entfernt werden müssen.
func decodeContent(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(cleaned)
}
