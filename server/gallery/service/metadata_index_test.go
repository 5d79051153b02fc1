package service

import (
	"context"
	"io"
	"testing"

	"gallery_server/server/common/infra/object"
	"gallery_server/server/gallery/domain"
)

func TestListOnEmptyStoreReturnsEmptyList(t *testing.T) {
	index := NewMetadataIndex(object.NewMemoryStore(""), nil)

	list, err := index.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d entries", len(list))
	}
	if list == nil {
		t.Error("expected non-nil empty slice")
	}
}

func TestAppendPrependsNewestFirst(t *testing.T) {
	index := NewMetadataIndex(object.NewMemoryStore(""), nil)

	for _, id := range []string{"uploads/a", "uploads/b", "uploads/c"} {
		if err := index.Append(context.Background(), domain.FileRecord{ID: id, Name: id}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := index.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"uploads/c", "uploads/b", "uploads/a"}
	if len(list) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	index := NewMetadataIndex(object.NewMemoryStore(""), nil)
	if err := index.Append(context.Background(), domain.FileRecord{ID: "uploads/a"}); err != nil {
		t.Fatal(err)
	}

	if err := index.Remove(context.Background(), "uploads/missing"); err != nil {
		t.Fatalf("remove of unknown id should not fail: %v", err)
	}

	list, err := index.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "uploads/a" {
		t.Errorf("list changed by no-op remove: %+v", list)
	}
}

func TestRemoveDropsOnlyMatchingEntry(t *testing.T) {
	index := NewMetadataIndex(object.NewMemoryStore(""), nil)
	for _, id := range []string{"uploads/a", "uploads/b"} {
		if err := index.Append(context.Background(), domain.FileRecord{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	if err := index.Remove(context.Background(), "uploads/a"); err != nil {
		t.Fatal(err)
	}
	list, err := index.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "uploads/b" {
		t.Errorf("unexpected list after remove: %+v", list)
	}
}

func TestFind(t *testing.T) {
	index := NewMetadataIndex(object.NewMemoryStore(""), nil)
	if err := index.Append(context.Background(), domain.FileRecord{ID: "uploads/a", Name: "a.txt"}); err != nil {
		t.Fatal(err)
	}

	record, found, err := index.Find(context.Background(), "uploads/a")
	if err != nil {
		t.Fatal(err)
	}
	if !found || record.Name != "a.txt" {
		t.Errorf("expected to find uploads/a, got found=%v record=%+v", found, record)
	}

	_, found, err = index.Find(context.Background(), "uploads/zzz")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected uploads/zzz to be absent")
	}
}

func TestIndexDocumentIsJSONArray(t *testing.T) {
	store := object.NewMemoryStore("")
	index := NewMetadataIndex(store, nil)
	if err := index.Append(context.Background(), domain.FileRecord{ID: "uploads/a"}); err != nil {
		t.Fatal(err)
	}

	rc, err := store.Get(context.Background(), metadataIndexKey)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 || raw[0] != '[' {
		t.Errorf("expected a JSON array document, got %q", raw)
	}
}
