package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/dbopen"
)

func newAnnotation(pageURL, text string) annotation.Annotation {
	return annotation.Annotation{
		ID:        uuid.NewString(),
		Kind:      annotation.KindRegion,
		CreatedAt: 1700000000000,
		PageURL:   pageURL,
		Viewport:  annotation.Viewport{Category: annotation.CategoryDesktop, Width: 1280, Height: 800},
		Status:    annotation.StatusOpen,
		Region: &annotation.Region{
			Absolute:   annotation.Rect{Left: 10, Top: 20, Width: 30, Height: 40},
			Responsive: &annotation.Responsive{LeftPct: 1, TopPct: 2, WidthVw: 3, HeightVw: 4},
		},
		Comments: []annotation.Comment{{
			ID:        uuid.NewString(),
			Text:      text,
			Author:    annotation.Author{ID: "u1", Name: "ana"},
			Timestamp: 1700000000000,
		}},
	}
}

func newSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSQLite_LoadMissingIsEmpty(t *testing.T) {
	s := newSQLite(t)
	rec, err := s.Load(context.Background(), "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Domain != "example.com" || rec.Count() != 0 || rec.Pages == nil {
		t.Errorf("record = %+v", rec)
	}
}

func TestSQLite_ReplaceAllRoundTrip(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	a := newAnnotation("https://example.com/docs", "one")
	b := newAnnotation("https://example.com/docs", "two")
	c := newAnnotation("https://example.com/", "three")
	c.Status = annotation.StatusResolved

	rec := annotation.NewRecord("example.com")
	rec.Put("/docs", a)
	rec.Put("/docs", b)
	rec.Put("/", c)
	if err := s.ReplaceAll(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	docs := got.Bucket("/docs")
	if len(docs) != 2 || docs[0].ID != a.ID || docs[1].ID != b.ID {
		t.Errorf("docs bucket = %+v", docs)
	}
	if v, _ := s.Version(ctx, "example.com"); v != 1 {
		t.Errorf("version = %d, want 1", v)
	}

	sum, err := s.Summary(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(sum) != 2 || sum[0].Path != "/" || sum[0].Resolved != 1 || sum[1].Open != 2 || sum[1].Comments != 2 {
		t.Errorf("summary = %+v", sum)
	}

	if err := s.ReplaceAll(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Version(ctx, "example.com"); v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestSQLite_EmptyRecordRemovesDomain(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	rec := annotation.NewRecord("example.com")
	rec.Put("/", newAnnotation("https://example.com/", "x"))
	if err := s.ReplaceAll(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceAll(ctx, annotation.NewRecord("example.com")); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Version(ctx, "example.com"); v != 0 {
		t.Errorf("domain row survived: version %d", v)
	}
	sum, _ := s.Summary(ctx, "example.com")
	if len(sum) != 0 {
		t.Errorf("index rows survived: %+v", sum)
	}
}

func TestSQLite_RejectsInvalidRecord(t *testing.T) {
	s := newSQLite(t)
	bad := newAnnotation("https://example.com/", "x")
	bad.Comments = nil
	rec := annotation.NewRecord("example.com")
	rec.Put("/", bad)
	if err := s.ReplaceAll(context.Background(), rec); !errors.Is(err, annotation.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}
