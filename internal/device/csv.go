// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ManuGH/tempus/internal/timeline"
)

// KindCSV is the registry kind of CSVReader.
const KindCSV = "csv"

// CSVReader is a Temporal driver reading "time,value..." rows. The first
// column holds nanoseconds or Go durations; an optional header names the
// value columns.
type CSVReader struct {
	*Generator
	columns []string
	rows    [][]float64
}

// NewCSVReader returns a closed CSV driver.
func NewCSVReader() *CSVReader {
	c := &CSVReader{}
	c.Generator = NewGenerator(c.row)
	return c
}

func (c *CSVReader) Kind() string { return KindCSV }

// Columns returns the value column names.
func (c *CSVReader) Columns() []string { return slices.Clone(c.columns) }

func (c *CSVReader) Recognize(path string, head []byte) bool {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return true
	}
	line, _, _ := bytes.Cut(head, []byte("\n"))
	first, _, found := bytes.Cut(line, []byte(","))
	if !found {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimSpace(string(first)), 10, 64)
	return err == nil
}

func (c *CSVReader) Open(path string, mode OpenMode) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	type record struct {
		t      timeline.Time
		values []float64
	}
	var records []record
	c.columns = nil
	for line := 1; ; line++ {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if len(fields) < 2 {
			return fmt.Errorf("%w: %s line %d: need time and at least one value", ErrConfiguration, path, line)
		}
		t, terr := timeline.ParseTime(fields[0])
		if terr != nil || !t.Valid() {
			if line == 1 && c.columns == nil {
				c.columns = slices.Clone(fields[1:])
				continue
			}
			return fmt.Errorf("%w: %s line %d: bad time %q", ErrConfiguration, path, line, fields[0])
		}
		values := make([]float64, len(fields)-1)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return fmt.Errorf("%w: %s line %d: bad value %q", ErrConfiguration, path, line, s)
			}
			values[i] = v
		}
		records = append(records, record{t: t, values: values})
	}

	slices.SortStableFunc(records, func(a, b record) int {
		switch {
		case a.t < b.t:
			return -1
		case a.t > b.t:
			return 1
		}
		return 0
	})
	ts := make([]timeline.Time, len(records))
	c.rows = make([][]float64, len(records))
	width := 0
	for i, rec := range records {
		ts[i] = rec.t
		c.rows[i] = rec.values
		width = max(width, len(rec.values))
	}
	for i := len(c.columns); i < width; i++ {
		c.columns = append(c.columns, "v"+strconv.Itoa(i+1))
	}
	c.SetTimestamps(ts, true)
	return c.Generator.Open(path, mode)
}

func (c *CSVReader) Close() error {
	c.rows = nil
	c.SetTimestamps(nil, false)
	return c.Generator.Close()
}

func (c *CSVReader) row(_ timeline.Time, pos int64) (any, error) {
	if pos < 0 || pos >= int64(len(c.rows)) {
		return nil, fmt.Errorf("position %d out of range", pos)
	}
	out := make(map[string]float64, len(c.columns))
	for i, v := range c.rows[pos] {
		out[c.columns[i]] = v
	}
	return out, nil
}
