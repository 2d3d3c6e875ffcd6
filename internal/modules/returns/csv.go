package returns

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// ReadCSV parses a returns table: a header row of "date" followed by one
// column per asset symbol, then one row per period with ISO dates and
// decimal returns. The parsed table goes through full Matrix validation.
func ReadCSV(r io.Reader) (*Matrix, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: header needs a date column and at least one asset", ErrMalformedMatrix)
	}
	symbols := header[1:]

	var dates []time.Time
	var data [][]float64

	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, expected %d",
				ErrMalformedMatrix, line, len(record), len(header))
		}

		date, err := time.Parse(dateLayout, record[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q on line %d", ErrMalformedMatrix, record[0], line)
		}

		row := make([]float64, len(symbols))
		for j, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad return %q for %s on line %d",
					ErrMalformedMatrix, field, symbols[j], line)
			}
			row[j] = v
		}

		dates = append(dates, date)
		data = append(data, row)
	}

	return NewMatrix(symbols, dates, data)
}

// ReadCSVFile opens and parses a returns CSV file.
func ReadCSVFile(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open returns file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteCSV serializes the matrix in the same format ReadCSV consumes.
// Floats are written with 17 significant digits so a round trip reproduces
// identical values.
func WriteCSV(w io.Writer, m *Matrix) error {
	cw := csv.NewWriter(w)

	header := append([]string{"date"}, m.Symbols()...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := 0; i < m.Periods(); i++ {
		record := make([]string, 0, m.Assets()+1)
		record = append(record, m.Date(i).Format(dateLayout))
		for j := 0; j < m.Assets(); j++ {
			record = append(record, strconv.FormatFloat(m.At(i, j), 'g', 17, 64))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
