package postprocess

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDictionary(t *testing.T) *Dictionary {
	t.Helper()
	d, err := OpenDictionary(context.Background(), "", testLogger())
	if err != nil {
		t.Fatalf("open dictionary: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDictionarySeedsDefaults(t *testing.T) {
	d := openTestDictionary(t)
	entries, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected seeded entries")
	}
	found := false
	for _, e := range entries {
		if e.Spoken == "api" && e.Written == "API" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected api seed entry")
	}
}

func TestDictionaryUpsertReplacesBySpoken(t *testing.T) {
	d := openTestDictionary(t)
	ctx := context.Background()

	if err := d.Upsert(ctx, Entry{Spoken: "grpc", Written: "gRPC"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := d.Upsert(ctx, Entry{Spoken: "GRPC", Written: "gRPC v2"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	entries, err := d.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	count := 0
	for _, e := range entries {
		if normalizeSpoken(e.Spoken) == "grpc" {
			count++
			if e.Written != "gRPC v2" {
				t.Fatalf("expected replacement to win, got %q", e.Written)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected unique spoken form, found %d entries", count)
	}
}

func TestDictionaryRemove(t *testing.T) {
	d := openTestDictionary(t)
	ctx := context.Background()

	removed, err := d.Remove(ctx, "api")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatal("expected api to be removed")
	}
	removed, err = d.Remove(ctx, "api")
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if removed {
		t.Fatal("second remove must report absence")
	}
}

func TestDictionaryFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.db")
	d, err := OpenDictionary(context.Background(), path, testLogger())
	if err != nil {
		t.Fatalf("open file dictionary: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Upsert(context.Background(), Entry{Spoken: "nats", Written: "NATS"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestApplyCaseSensitivity(t *testing.T) {
	entries := []Entry{
		{Spoken: "Go", Written: "Golang", CaseSensitive: true, WholeWord: true},
	}
	out, n := Apply("let's go write Go code", entries)
	if out != "let's go write Golang code" {
		t.Fatalf("unexpected output %q", out)
	}
	if n != 1 {
		t.Fatalf("expected 1 replacement, got %d", n)
	}
}

func TestApplyInsertionOrderBreaksTies(t *testing.T) {
	entries := []Entry{
		{Spoken: "ml", Written: "ML", WholeWord: true},
		{Spoken: "mL", Written: "milliliter", WholeWord: true},
	}
	out, _ := Apply("add 5 ml now", entries)
	if out != "add 5 ML now" {
		t.Fatalf("expected first-inserted entry to win, got %q", out)
	}
}
