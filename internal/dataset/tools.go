package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CountEntries reports the number of top-level entries in a dataset file
// (array elements or object keys).
func CountEntries(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(data, &asList); err == nil {
		return len(asList), nil
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &asMap); err == nil {
		return len(asMap), nil
	}
	return 0, fmt.Errorf("%s: top-level JSON is neither an array nor an object", path)
}

// CountFiles reports the number of .json files directly inside dir.
func CountFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

// MergeDir merges every .json file in inputDir into a single JSON array at
// outputFile. Objects without an "id" field get one derived from their
// filename; files with invalid JSON are skipped. Returns the number of
// entries written and the names of skipped files.
func MergeDir(inputDir, outputFile string) (int, []string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read input directory %s: %w", inputDir, err)
	}

	merged := []interface{}{}
	var skipped []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(inputDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			skipped = append(skipped, e.Name())
			continue
		}

		var content interface{}
		if err := json.Unmarshal(data, &content); err != nil {
			skipped = append(skipped, e.Name())
			continue
		}

		fileID := strings.TrimSuffix(e.Name(), ".json")
		switch v := content.(type) {
		case []interface{}:
			for _, item := range v {
				merged = append(merged, withID(item, fileID))
			}
		default:
			merged = append(merged, withID(content, fileID))
		}
	}

	if dir := filepath.Dir(outputFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, skipped, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, skipped, fmt.Errorf("failed to marshal merged data: %w", err)
	}
	if err := os.WriteFile(outputFile, out, 0o644); err != nil {
		return 0, skipped, fmt.Errorf("failed to write %s: %w", outputFile, err)
	}
	return len(merged), skipped, nil
}

// withID stamps the source filename onto objects that lack an id.
func withID(item interface{}, fileID string) interface{} {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return item
	}
	if _, has := obj["id"]; !has {
		obj["id"] = fileID
	}
	return obj
}
