package services

import (
	"context"
	"fmt"
	"path"
	"strings"

	"content-gate/config"
	"content-gate/storage"
)

// fakeStore ist ein In-Memory-ObjectStore mit echter CAS-Semantik für die
// Service-Tests. beforePut kann einen nebenläufigen Schreiber simulieren.
type fakeStore struct {
	objects   map[string]fakeObject
	revs      int
	getErr    map[string]error
	putErr    map[string]error
	putCalls  map[string]int
	beforePut func(path string)
}

type fakeObject struct {
	content []byte
	sha     string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:  map[string]fakeObject{},
		getErr:   map[string]error{},
		putErr:   map[string]error{},
		putCalls: map[string]int{},
	}
}

func (f *fakeStore) nextSHA() string {
	f.revs++
	return fmt.Sprintf("rev-%d", f.revs)
}

// seed legt ein Objekt direkt ab, am CAS vorbei.
func (f *fakeStore) seed(p string, content []byte) string {
	sha := f.nextSHA()
	f.objects[p] = fakeObject{content: append([]byte(nil), content...), sha: sha}
	return sha
}

func (f *fakeStore) Get(_ context.Context, p string) ([]byte, string, error) {
	if err := f.getErr[p]; err != nil {
		return nil, "", err
	}
	obj, ok := f.objects[p]
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	return append([]byte(nil), obj.content...), obj.sha, nil
}

func (f *fakeStore) List(_ context.Context, folder string) ([]storage.Entry, error) {
	prefix := strings.TrimRight(folder, "/") + "/"
	var entries []storage.Entry
	for p, obj := range f.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		entries = append(entries, storage.Entry{
			Name: path.Base(p),
			Path: p,
			SHA:  obj.sha,
			Size: int64(len(obj.content)),
			Type: "file",
		})
	}
	if len(entries) == 0 {
		return nil, storage.ErrNotFound
	}
	return entries, nil
}

func (f *fakeStore) Put(_ context.Context, p string, content []byte, _, revision string) (string, error) {
	f.putCalls[p]++
	if hook := f.beforePut; hook != nil {
		f.beforePut = nil
		hook(p)
	}
	if err := f.putErr[p]; err != nil {
		return "", err
	}
	cur, exists := f.objects[p]
	if exists && revision != cur.sha {
		return "", fmt.Errorf("put %s: %w", p, storage.ErrConflict)
	}
	if !exists && revision != "" {
		return "", fmt.Errorf("put %s: %w", p, storage.ErrConflict)
	}
	sha := f.nextSHA()
	f.objects[p] = fakeObject{content: append([]byte(nil), content...), sha: sha}
	return sha, nil
}

func (f *fakeStore) Delete(_ context.Context, p, revision, _ string) error {
	cur, exists := f.objects[p]
	if !exists {
		return storage.ErrNotFound
	}
	if revision != cur.sha {
		return fmt.Errorf("delete %s: %w", p, storage.ErrConflict)
	}
	delete(f.objects, p)
	return nil
}

var _ storage.ObjectStore = &fakeStore{}

func testConfig() *config.Config {
	return &config.Config{
		AdminToken:      "secret",
		StoreAPIURL:     "https://store.invalid/api",
		StoreToken:      "token",
		StoreBranch:     "main",
		StoreMaxRetries: 3,
		IndexPath:       "data/blog-index.json",
		PostsFolder:     "blog/posts",
		UploadsFolder:   "images/uploads",
		PublicBaseURL:   "https://example.org",
	}
}
