package persona

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "personas.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadUnsavedReturnsDefaults(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Load(context.Background(), DefaultID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.ID != DefaultID {
		t.Errorf("id = %q, want %q", p.ID, DefaultID)
	}
	if p.Rules.MaxPostsPerHour != 2 {
		t.Errorf("MaxPostsPerHour = %d, want 2", p.Rules.MaxPostsPerHour)
	}
	if p.SubmoltPriorities == nil {
		t.Error("SubmoltPriorities should never be nil")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	p := Default()
	p.Name = "Molty"
	p.Interests = []string{"robotics"}
	p.SubmoltPriorities = map[string]int{"ai": 5, "golang": 8}
	p.Rules.EngagementRate = 0.5
	if err := s.Save(context.Background(), p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(context.Background(), DefaultID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "Molty" {
		t.Errorf("name = %q, want Molty", got.Name)
	}
	if got.SubmoltPriorities["golang"] != 8 {
		t.Errorf("priorities = %v", got.SubmoltPriorities)
	}
	if got.Rules.EngagementRate != 0.5 {
		t.Errorf("engagement rate = %v, want 0.5", got.Rules.EngagementRate)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set after save")
	}
}

func TestSaveValidatesBounds(t *testing.T) {
	s := newTestStore(t)

	p := Default()
	p.SubmoltPriorities = map[string]int{"ai": 11}
	if err := s.Save(context.Background(), p); err == nil {
		t.Fatal("expected error for out-of-range priority")
	}

	p = Default()
	p.Rules.EngagementRate = 1.5
	if err := s.Save(context.Background(), p); err == nil {
		t.Fatal("expected error for out-of-range engagement rate")
	}
}

func TestListIncludesDefaultWhenUnsaved(t *testing.T) {
	s := newTestStore(t)

	extra := Default()
	extra.ID = "researcher"
	extra.Name = "Researcher"
	if err := s.Save(context.Background(), extra); err != nil {
		t.Fatalf("Save: %v", err)
	}

	all, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].ID != DefaultID {
		t.Errorf("first = %q, want default first", all[0].ID)
	}
}

func TestDeleteDefaultRejected(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save(context.Background(), Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	err := s.Delete(context.Background(), DefaultID)
	if !errors.Is(err, ErrDefaultPersonaDelete) {
		t.Fatalf("err = %v, want ErrDefaultPersonaDelete", err)
	}

	// The saved row must be untouched.
	got, err := s.Load(context.Background(), DefaultID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("saved default persona should still exist")
	}
}

func TestDeleteNamedPersona(t *testing.T) {
	s := newTestStore(t)

	p := Default()
	p.ID = "researcher"
	if err := s.Save(context.Background(), p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(context.Background(), "researcher"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(context.Background(), "researcher"); err == nil {
		t.Fatal("expected not-found error on second delete")
	}
}
