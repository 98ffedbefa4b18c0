package fsatomic

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c.txt")

	require.NoError(t, WriteFile(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")

	require.NoError(t, WriteFile(path, []byte("one")))
	require.NoError(t, WriteFile(path, []byte("two")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name())
}

// TestAtomicVisibility hammers one file with large concurrent writes and
// asserts every read observes a whole payload, never a truncated or
// interleaved one.
func TestAtomicVisibility(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contended.txt")

	payloads := [][]byte{
		[]byte(strings.Repeat("a", 256*1024)),
		[]byte(strings.Repeat("b", 512*1024)),
		[]byte(strings.Repeat("c", 128*1024)),
	}
	require.NoError(t, WriteFile(path, payloads[0]))

	var writers sync.WaitGroup
	for _, payload := range payloads {
		writers.Add(1)
		go func(p []byte) {
			defer writers.Done()
			for i := 0; i < 50; i++ {
				if err := WriteFile(path, p); err != nil {
					t.Error(err)
					return
				}
			}
		}(payload)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			valid := false
			for _, p := range payloads {
				if len(data) == len(p) && data[0] == p[0] {
					valid = true
					break
				}
			}
			if !valid {
				t.Errorf("observed partial read of %d bytes", len(data))
				return
			}
		}
	}()

	writers.Wait()
	close(stop)
	<-readerDone
}

func TestUpsertJSONLReplacesByKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.jsonl")

	type entry struct {
		ID    string `json:"id"`
		Value int    `json:"value"`
	}

	require.NoError(t, UpsertJSONL(path, entry{ID: "a", Value: 1}, "id", UpsertOptions{}))
	require.NoError(t, UpsertJSONL(path, entry{ID: "b", Value: 2}, "id", UpsertOptions{}))
	require.NoError(t, UpsertJSONL(path, entry{ID: "a", Value: 3}, "id", UpsertOptions{}))

	records, err := ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float64(3), records[0]["value"])
	assert.Equal(t, "a", records[0]["id"])
}

func TestUpsertJSONLIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.jsonl")

	record := map[string]string{"id": "x", "subject": "hi"}
	require.NoError(t, UpsertJSONL(path, record, "id", UpsertOptions{}))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, UpsertJSONL(path, record, "id", UpsertOptions{}))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUpsertJSONLSortsDescending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "threads.jsonl")

	opts := UpsertOptions{SortByField: "last_date"}
	for _, date := range []string{"2026-02-10", "2026-02-20", "2026-02-15"} {
		record := map[string]string{"id": "t" + date, "last_date": date}
		require.NoError(t, UpsertJSONL(path, record, "id", opts))
	}

	records, err := ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "2026-02-20", records[0]["last_date"])
	assert.Equal(t, "2026-02-15", records[1]["last_date"])
	assert.Equal(t, "2026-02-10", records[2]["last_date"])
}

func TestUpsertJSONLRejectsMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonl")

	err := UpsertJSONL(path, map[string]int{"value": 1}, "id", UpsertOptions{})
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestJSONLLinesAllParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.jsonl")

	for i := 0; i < 5; i++ {
		record := map[string]any{"id": string(rune('a' + i)), "n": i}
		require.NoError(t, UpsertJSONL(path, record, "id", UpsertOptions{}))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 5)
	seen := map[string]bool{}
	for _, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		id := rec["id"].(string)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
