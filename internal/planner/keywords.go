// Package planner turns uploaded keyword files into a run plan: it extracts
// and deduplicates keywords, then excludes keywords that already have
// persisted items for their source file (resumable mode).
package planner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// UploadedFile is one keyword list received from the client.
type UploadedFile struct {
	Name   string
	Reader io.Reader
}

// ErrNoKeywords is returned when the uploaded files contain no usable keywords.
var ErrNoKeywords = errors.New("no keywords found in uploaded files")

// ExtractKeywords parses keyword CSV files (first column per row) into an
// order-preserving deduplicated list plus a keyword-to-file mapping. When the
// same keyword appears in several files, the first file wins.
func ExtractKeywords(files []UploadedFile) ([]string, map[string]string, error) {
	var keywords []string
	sources := make(map[string]string)
	seen := make(map[string]struct{})

	for _, file := range files {
		if !strings.HasSuffix(strings.ToLower(file.Name), ".csv") {
			return nil, nil, fmt.Errorf("file %s must be a CSV file", file.Name)
		}
		reader := csv.NewReader(file.Reader)
		reader.FieldsPerRecord = -1
		for {
			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, nil, fmt.Errorf("parse %s: %w", file.Name, err)
			}
			if len(row) == 0 {
				continue
			}
			keyword := strings.TrimSpace(row[0])
			if keyword == "" {
				continue
			}
			if _, ok := seen[keyword]; ok {
				continue
			}
			seen[keyword] = struct{}{}
			keywords = append(keywords, keyword)
			sources[keyword] = file.Name
		}
	}

	if len(keywords) == 0 {
		return nil, nil, ErrNoKeywords
	}
	return keywords, sources, nil
}
