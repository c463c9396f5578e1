package product

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrMalformedRow = errors.New("malformed product row")

// LoadFile reads a product list from a CSV file.
func LoadFile(path string) ([]Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open products: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a CSV product list with a header row (product_name,url).
// Any malformed row fails the whole load.
func Load(r io.Reader) ([]Product, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header row", ErrMalformedRow)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedRow, err)
	}
	if !strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(header[0], "\ufeff")), "product_name") ||
		!strings.EqualFold(strings.TrimSpace(header[1]), "url") {
		return nil, fmt.Errorf("%w: header %q, want product_name,url", ErrMalformedRow, strings.Join(header, ","))
	}

	var out []Product
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		line, _ := cr.FieldPos(0)
		p, err := New(rec[0], rec[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		out = append(out, p)
	}
	return out, nil
}
