package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"content-gate/models"
	"content-gate/storage"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func newArticleService(store *fakeStore) *ArticleService {
	return NewArticleService(testConfig(), store, zap.NewNop())
}

func testRecord(id, publishDate string) models.ArticleRecord {
	return models.ArticleRecord{
		ID:          id,
		Slug:        "slug-" + id,
		Title:       "Titel " + id,
		Status:      models.StatusPublished,
		PublishDate: publishDate,
	}
}

func TestListEmptyStore(t *testing.T) {
	svc := newArticleService(newFakeStore())

	idx, revision, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if revision != "" {
		t.Errorf("revision = %q, want empty", revision)
	}
	if idx.Articles == nil || len(idx.Articles) != 0 {
		t.Errorf("Articles = %v, want empty slice", idx.Articles)
	}
	if idx.Categories == nil || len(idx.Categories) != 0 {
		t.Errorf("Categories = %v, want empty slice", idx.Categories)
	}
}

func TestSaveDistinctIDsGrowIndex(t *testing.T) {
	svc := newArticleService(newFakeStore())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		rec := testRecord(fmt.Sprintf("a%d", i), "2024-01-01T00:00:00Z")
		if _, err := svc.Save(ctx, rec, "<html></html>", true); err != nil {
			t.Fatalf("Save a%d: %v", i, err)
		}
	}

	idx, _, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(idx.Articles) != 3 {
		t.Errorf("index length = %d, want 3", len(idx.Articles))
	}
}

func TestResaveSameIDReplaces(t *testing.T) {
	svc := newArticleService(newFakeStore())
	ctx := context.Background()

	rec := testRecord("a1", "2024-01-01T00:00:00Z")
	if _, err := svc.Save(ctx, rec, "doc", true); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	rec.Title = "Zweiter Titel"
	if _, err := svc.Save(ctx, rec, "doc", false); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	idx, _, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(idx.Articles) != 1 {
		t.Fatalf("index length = %d, want 1", len(idx.Articles))
	}
	if idx.Articles[0].Title != "Zweiter Titel" {
		t.Errorf("Title = %q, want %q", idx.Articles[0].Title, "Zweiter Titel")
	}
}

func TestSortByPublishDateDescending(t *testing.T) {
	svc := newArticleService(newFakeStore())
	ctx := context.Background()

	if _, err := svc.Save(ctx, testRecord("a1", "2024-01-01"), "doc", true); err != nil {
		t.Fatalf("Save a1: %v", err)
	}
	if _, err := svc.Save(ctx, testRecord("a2", "2024-06-01"), "doc", true); err != nil {
		t.Fatalf("Save a2: %v", err)
	}

	idx, _, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := []string{idx.Articles[0].ID, idx.Articles[1].ID}
	if diff := cmp.Diff([]string{"a2", "a1"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestStableSortPreservesTieOrder(t *testing.T) {
	svc := newArticleService(newFakeStore())
	ctx := context.Background()
	date := "2024-03-15T12:00:00Z"

	// Neue Artikel werden vorangestellt: nach c, b, a ist die Ordnung [a b c].
	for _, id := range []string{"c", "b", "a"} {
		if _, err := svc.Save(ctx, testRecord(id, date), "doc", true); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	// Ein In-Place-Update darf die relative Ordnung der Gleichstände nicht ändern.
	rec := testRecord("b", date)
	rec.Title = "Aktualisiert"
	if _, err := svc.Save(ctx, rec, "doc", false); err != nil {
		t.Fatalf("update b: %v", err)
	}

	idx, _, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var got []string
	for _, a := range idx.Articles {
		got = append(got, a.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("tie order mismatch (-want +got):\n%s", diff)
	}
}

func TestConflictFailsWithoutRetry(t *testing.T) {
	store := newFakeStore()
	svc := newArticleService(store)
	ctx := context.Background()

	if _, err := svc.Save(ctx, testRecord("a1", "2024-01-01"), "doc", true); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	// Zwischen Lesen und Schreiben des Index ändert ein anderer Schreiber das Objekt.
	store.beforePut = func(p string) {
		if p == svc.Config.IndexPath {
			store.seed(p, []byte(`{"articles":[],"categories":[]}`))
		}
	}

	_, err := svc.Save(ctx, testRecord("a2", "2024-02-01"), "doc", true)
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	// Erwartung: seed-Save + genau ein Konflikt-Versuch, kein stilles Neu-Lesen.
	if calls := store.putCalls[svc.Config.IndexPath]; calls != 2 {
		t.Errorf("index put calls = %d, want 2", calls)
	}
}

func TestDocumentWriteFailureIsPartialConsistency(t *testing.T) {
	store := newFakeStore()
	svc := newArticleService(store)
	ctx := context.Background()

	rec := testRecord("a1", "2024-01-01")
	store.putErr[svc.DocumentPath(rec.Slug)] = fmt.Errorf("boom")

	res, err := svc.Save(ctx, rec, "doc", true)
	var pc *PartialConsistencyError
	if !errors.As(err, &pc) {
		t.Fatalf("err = %v, want PartialConsistencyError", err)
	}
	if !pc.IndexOK || pc.DocumentOK {
		t.Errorf("pc = %+v, want IndexOK && !DocumentOK", pc)
	}
	if res == nil || !res.IndexOK {
		t.Fatalf("res = %+v, want IndexOK", res)
	}

	// Kein stilles Rollback: der Index zeigt den neuen Eintrag trotzdem.
	idx, _, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(idx.Articles) != 1 || idx.Articles[0].ID != "a1" {
		t.Errorf("index after partial failure = %+v, want [a1]", idx.Articles)
	}
}

func TestRoundTripFieldFidelity(t *testing.T) {
	svc := newArticleService(newFakeStore())
	ctx := context.Background()

	rec := models.ArticleRecord{
		ID:              "a1",
		Slug:            "voller-artikel",
		Title:           "Voller Artikel",
		Excerpt:         "Ein Teaser.",
		Category:        "technik",
		CategoryDisplay: "Technik",
		Tags:            []string{"go", "store"},
		Image:           "/images/uploads/cover.jpg",
		Author:          "Mara Weber",
		PublishDate:     "2024-05-01T09:30:00Z",
		ModifiedDate:    "2024-05-02T10:00:00Z",
		ReadTime:        "6 min",
		Views:           1234,
		Featured:        true,
		Trending:        true,
		Status:          models.StatusPublished,
	}
	if _, err := svc.Save(ctx, rec, "doc", true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	idx, _, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(idx.Articles) != 1 {
		t.Fatalf("index length = %d, want 1", len(idx.Articles))
	}
	if diff := cmp.Diff(rec, idx.Articles[0]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteRemovesRecordAndDocument(t *testing.T) {
	store := newFakeStore()
	svc := newArticleService(store)
	ctx := context.Background()

	rec := testRecord("a1", "2024-01-01")
	if _, err := svc.Save(ctx, rec, "doc", true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	res, err := svc.Delete(ctx, rec.ID, rec.Slug)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !res.IndexOK || !res.DocumentOK {
		t.Errorf("res = %+v, want both OK", res)
	}

	idx, _, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(idx.Articles) != 0 {
		t.Errorf("index length = %d, want 0", len(idx.Articles))
	}
	if _, ok := store.objects[svc.DocumentPath(rec.Slug)]; ok {
		t.Errorf("document still present after delete")
	}
}

func TestDeleteUnknownIDIsNoOp(t *testing.T) {
	svc := newArticleService(newFakeStore())
	ctx := context.Background()

	if _, err := svc.Save(ctx, testRecord("a1", "2024-01-01"), "doc", true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := svc.Delete(ctx, "a1", "slug-a1"); err != nil {
		t.Fatalf("first Delete: %v", err)
	}

	res, err := svc.Delete(ctx, "a1", "slug-a1")
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if !res.IndexOK || !res.DocumentOK {
		t.Errorf("res = %+v, want both OK", res)
	}
}

func TestDeleteMissingDocumentIsNotAnError(t *testing.T) {
	store := newFakeStore()
	svc := newArticleService(store)
	ctx := context.Background()

	rec := testRecord("a1", "2024-01-01")
	if _, err := svc.Save(ctx, rec, "doc", true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	delete(store.objects, svc.DocumentPath(rec.Slug))

	if _, err := svc.Delete(ctx, rec.ID, rec.Slug); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestSaveRejectsInvalidRecord(t *testing.T) {
	svc := newArticleService(newFakeStore())

	rec := testRecord("a1", "2024-01-01")
	rec.Title = ""
	if _, err := svc.Save(context.Background(), rec, "doc", true); !errors.Is(err, models.ErrInvalidRecord) {
		t.Fatalf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestSavePreservesCategories(t *testing.T) {
	store := newFakeStore()
	svc := newArticleService(store)
	ctx := context.Background()

	seeded := models.ArticleIndex{
		Articles:   []models.ArticleRecord{},
		Categories: []models.Category{{Slug: "technik", Name: "Technik"}},
	}
	payload, err := json.Marshal(seeded)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	store.seed(svc.Config.IndexPath, payload)

	if _, err := svc.Save(ctx, testRecord("a1", "2024-01-01"), "doc", true); err != nil {
		t.Fatalf("Save: %v", err)
	}

	idx, _, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []models.Category{{Slug: "technik", Name: "Technik"}}
	if diff := cmp.Diff(want, idx.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
}
