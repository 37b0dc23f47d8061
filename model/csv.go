package model

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ReadWeights parses a headerless coefficient CSV: one row per class, one
// column per feature.
func ReadWeights(r io.Reader) ([][]float64, error) {
	weights, err := ReadRows(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read coefficients: %w", err)
	}
	return weights, nil
}

// ReadRows parses a headerless CSV of numbers. Lines starting with '#' are
// skipped. Client feature files use the same layout, one sample per row.
func ReadRows(r io.Reader) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var rows [][]float64
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make([]float64, len(record))
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", len(rows), i, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("no rows")
	}
	return rows, nil
}

// LoadFile reads one coefficient CSV as model name.
func LoadFile(path, name string, prec int64) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	weights, err := ReadWeights(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(name, weights, prec)
}

// LoadDir loads every <Name>.csv under dir as model Name.
func LoadDir(dir string, prec int64) ([]*Model, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	models := make([]*Model, 0, len(paths))
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		m, err := LoadFile(path, name, prec)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}
