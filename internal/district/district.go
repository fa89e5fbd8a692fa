// Package district loads the district roster that drives a scrape run.
//
// The CSV may carry both the district homepage and one or more
// pre-resolved career/jobs URLs. CSV-provided career URLs are the primary
// entrypoints; the homepage is kept for discovery fallback when they are
// missing.
package district

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// District is one school district row from the roster CSV.
type District struct {
	State      string
	Name       string
	Homepage   string
	Email      string
	CareerURLs []string
}

// LoadCSV reads districts from path, optionally filtered to one state
// (case-insensitive). Header names are matched loosely so rosters exported
// from different tools load without manual cleanup.
func LoadCSV(path, state string) ([]District, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	text := strings.TrimPrefix(string(data), "\uFEFF")

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(firstLine(text))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("roster %s has no data rows", path)
	}

	columns := indexHeader(rows[0])
	state = strings.ToUpper(strings.TrimSpace(state))

	var districts []District
	for _, row := range rows[1:] {
		d := District{
			State:    strings.ToUpper(cell(row, columns, "state")),
			Name:     cell(row, columns, "name", "district", "district_name"),
			Homepage: cell(row, columns, "homepage", "website", "url"),
			Email:    cell(row, columns, "email", "district_email"),
		}
		if raw := cell(row, columns, "career_url", "career_urls", "careers_url", "jobs_url"); raw != "" {
			d.CareerURLs = splitURLs(raw)
		}
		if d.Name == "" || (d.Homepage == "" && len(d.CareerURLs) == 0) {
			continue
		}
		if state != "" && d.State != state {
			continue
		}
		districts = append(districts, d)
	}
	return districts, nil
}

// sniffDelimiter picks the most frequent candidate delimiter in the
// header line, defaulting to a comma.
func sniffDelimiter(header string) rune {
	best := ','
	bestCount := strings.Count(header, ",")
	for _, candidate := range []rune{';', '\t', '|'} {
		if count := strings.Count(header, string(candidate)); count > bestCount {
			best = candidate
			bestCount = count
		}
	}
	return best
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

func indexHeader(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "_")
		if _, exists := columns[key]; !exists {
			columns[key] = i
		}
	}
	return columns
}

func cell(row []string, columns map[string]int, names ...string) string {
	for _, name := range names {
		if i, ok := columns[name]; ok && i < len(row) {
			if value := strings.TrimSpace(row[i]); value != "" {
				return value
			}
		}
	}
	return ""
}

// splitURLs splits a multi-valued career URL cell on whitespace or pipes.
func splitURLs(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '|' || r == ' ' || r == '\t' || r == '\n'
	})
	var urls []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			urls = append(urls, f)
		}
	}
	return urls
}
