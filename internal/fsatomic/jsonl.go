package fsatomic

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// UpsertOptions controls how a JSONL upsert rewrites the file.
type UpsertOptions struct {
	// SortByField orders records by the named field, descending, before the
	// rewrite. Values compare as strings; RFC 3339 timestamps sort correctly.
	SortByField string
	// MaxRecords caps the file after sorting. Zero means no cap.
	MaxRecords int
}

// UpsertJSONL replaces-or-appends a record in a JSON-Lines file by key field,
// then rewrites the whole file atomically. Lines that fail to parse are
// dropped on rewrite.
func UpsertJSONL(path string, record any, keyField string, opts UpsertOptions) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("failed to normalize record: %w", err)
	}
	key, ok := rec[keyField].(string)
	if !ok || key == "" {
		return fmt.Errorf("record has no string key field %q", keyField)
	}

	records, err := readJSONLRecords(path)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range records {
		if existingKey, ok := existing[keyField].(string); ok && existingKey == key {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	if opts.SortByField != "" {
		field := opts.SortByField
		sort.SliceStable(records, func(i, j int) bool {
			return stringField(records[i], field) > stringField(records[j], field)
		})
	}
	if opts.MaxRecords > 0 && len(records) > opts.MaxRecords {
		records = records[:opts.MaxRecords]
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}

	return WriteFile(path, buf.Bytes())
}

// ReadJSONL decodes every line of a JSON-Lines file into maps. A missing file
// yields an empty slice.
func ReadJSONL(path string) ([]map[string]any, error) {
	return readJSONLRecords(path)
}

func readJSONLRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return records, nil
}

func stringField(rec map[string]any, field string) string {
	if v, ok := rec[field].(string); ok {
		return v
	}
	return ""
}
