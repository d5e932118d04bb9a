package verify

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var csvHeader = []string{"index", "coord", "actual", "expected", "abs_diff"}

// WriteCSV writes one row per mismatch.
func WriteCSV(w io.Writer, mismatches []Mismatch) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, m := range mismatches {
		coord := make([]string, len(m.Coord))
		for i, c := range m.Coord {
			coord[i] = strconv.Itoa(c)
		}
		record := []string{
			strconv.Itoa(m.Index),
			strings.Join(coord, " "),
			strconv.FormatFloat(float64(m.Actual), 'g', -1, 32),
			strconv.FormatFloat(float64(m.Expected), 'g', -1, 32),
			fmt.Sprintf("%.6g", m.AbsDiff()),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// SaveCSV writes mismatches to a CSV file at path.
func SaveCSV(path string, mismatches []Mismatch) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := WriteCSV(file, mismatches); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
