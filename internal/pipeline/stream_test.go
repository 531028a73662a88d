package pipeline

import (
	"io"
	"os"
	"testing"
)

type testRecord struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func TestStream_AppendAndRead(t *testing.T) {
	path := StreamPath(t.TempDir(), "chunks")

	w, err := OpenStreamWriter(path)
	if err != nil {
		t.Fatalf("OpenStreamWriter failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Append(testRecord{ID: "r", Value: i}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var got []testRecord
	err = ReadStream(path, func(r testRecord) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadStream failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d records, want 3", len(got))
	}
	for i, r := range got {
		if r.Value != i {
			t.Errorf("record %d: value = %d, want %d", i, r.Value, i)
		}
	}
}

func TestStream_AppendOnly(t *testing.T) {
	path := StreamPath(t.TempDir(), "chunks")

	w, _ := OpenStreamWriter(path)
	_ = w.Append(testRecord{ID: "a"})
	_ = w.Close()

	// Re-opening mid-pipeline must append, not truncate.
	w2, _ := OpenStreamWriter(path)
	_ = w2.Append(testRecord{ID: "b"})
	_ = w2.Close()

	count := 0
	_ = ReadStream(path, func(testRecord) error {
		count++
		return nil
	})
	if count != 2 {
		t.Errorf("read %d records after re-open, want 2", count)
	}
}

func TestStreamReader_SkipsBlankLines(t *testing.T) {
	path := StreamPath(t.TempDir(), "chunks")
	if err := os.MkdirAll(path[:len(path)-len("chunks.jsonl")], 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{\"id\":\"a\"}\n\n{\"id\":\"b\"}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := OpenStreamReader(path)
	if err != nil {
		t.Fatalf("OpenStreamReader failed: %v", err)
	}
	defer r.Close()

	records := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		records++
	}
	if records != 2 {
		t.Errorf("read %d records, want 2", records)
	}
}

func TestReadStream_MissingFileIsEmpty(t *testing.T) {
	err := ReadStream(StreamPath(t.TempDir(), "nope"), func(testRecord) error {
		t.Fatal("callback invoked for missing stream")
		return nil
	})
	if err != nil {
		t.Fatalf("missing stream should read as empty, got: %v", err)
	}
}
