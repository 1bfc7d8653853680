// Package records loads key/value records and writes them to PostgreSQL
// inside the coordinator's per-batch transactions.
package records

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"batchtx/internal/models"
)

const maxLine = 1 << 20

// Decode reads newline-delimited JSON records. Blank lines are skipped.
func Decode(r io.Reader) ([]models.Record, error) {
	var out []models.Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		rec, err := DecodeOne([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return out, nil
}

// DecodeOne decodes and validates a single JSON record.
func DecodeOne(data []byte) (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return models.Record{}, err
	}
	return rec, nil
}
