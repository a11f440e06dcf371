package collection

import (
	"bytes"
	"context"
	"testing"
)

func TestExportImport_RoundTrips(t *testing.T) {
	c := newTestCollection(t, "people")
	seedSimpsons(t, c)
	ctx := context.Background()

	var buf bytes.Buffer
	exported, err := c.Export(ctx, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, err := c.Count(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exported != before {
		t.Fatalf("expected Export to report %d documents, got %d", before, exported)
	}

	dest := newTestCollection(t, "restored")
	imported, err := dest.Import(ctx, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if imported != exported {
		t.Fatalf("expected Import to insert %d documents, got %d", exported, imported)
	}

	after, err := dest.Count(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after != before {
		t.Fatalf("expected restored collection to hold %d documents, got %d", before, after)
	}

	lisas, err := dest.Find(ctx, map[string]any{"firstname": "Lisa"}, FindOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lisas) != 2 {
		t.Fatalf("expected 2 Lisas after import, got %d", len(lisas))
	}
}

func TestExport_EmptyCollectionProducesReadableSnapshot(t *testing.T) {
	c := newTestCollection(t, "empty")
	ctx := context.Background()

	var buf bytes.Buffer
	count, err := c.Export(ctx, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 documents exported, got %d", count)
	}

	dest := newTestCollection(t, "empty-restored")
	imported, err := dest.Import(ctx, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if imported != 0 {
		t.Fatalf("expected 0 documents imported, got %d", imported)
	}
}

func TestImport_RejectsNonSnappyStream(t *testing.T) {
	c := newTestCollection(t, "people")
	ctx := context.Background()

	var buf bytes.Buffer
	if _, err := c.Export(ctx, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A snapshot built by anything other than Export, or corrupted in
	// transit, should fail to decompress rather than silently import
	// nothing.
	garbage := bytes.NewReader([]byte("not a snappy stream"))
	if _, err := c.Import(ctx, garbage); err == nil {
		t.Fatal("expected an error importing a non-snappy stream")
	}
}
