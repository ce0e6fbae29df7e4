// Package candidates parses the top-candidates CSV produced by a job.
package candidates

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Candidate is one ranked target from the results table.
type Candidate struct {
	Dataset     string
	Designation string
	Target      string
	Prob        float64
	Label       float64
	PDays       float64
	DurHr       float64
	RpRe        float64
	TeffK       float64
	DepthPpm    float64
	RstarRsun   float64
	// Fields holds every column as read, keyed by header.
	Fields map[string]string
}

// Confirmed reports whether the model scored the target as certain.
func (c Candidate) Confirmed() bool {
	return c.Prob == 1
}

// Name returns the designation, falling back to the target id.
func (c Candidate) Name() string {
	switch {
	case c.Designation != "":
		return c.Designation
	case c.Target != "":
		return c.Target
	default:
		return "N/A"
	}
}

// DatasetName returns the dataset or "Unknown".
func (c Candidate) DatasetName() string {
	if c.Dataset == "" {
		return "Unknown"
	}
	return c.Dataset
}

// numeric maps numeric headers to their destination field.
var numeric = map[string]func(*Candidate) *float64{
	"prob":       func(c *Candidate) *float64 { return &c.Prob },
	"label":      func(c *Candidate) *float64 { return &c.Label },
	"P_days":     func(c *Candidate) *float64 { return &c.PDays },
	"Dur_hr":     func(c *Candidate) *float64 { return &c.DurHr },
	"Rp_Re":      func(c *Candidate) *float64 { return &c.RpRe },
	"Teff_K":     func(c *Candidate) *float64 { return &c.TeffK },
	"Depth_ppm":  func(c *Candidate) *float64 { return &c.DepthPpm },
	"Rstar_Rsun": func(c *Candidate) *float64 { return &c.RstarRsun },
}

// Parse reads a header row plus data rows. Input with fewer than two
// non-blank lines yields no candidates. Missing cells read as empty and
// unparseable numeric cells as 0.
func Parse(text string) ([]Candidate, error) {
	text = strings.TrimSpace(text)
	if strings.Count(text, "\n") < 1 {
		return nil, nil
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var out []Candidate
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		out = append(out, fromRecord(header, record))
	}
}

func fromRecord(header, record []string) Candidate {
	c := Candidate{Fields: make(map[string]string, len(header))}
	for i, name := range header {
		value := ""
		if i < len(record) {
			value = strings.TrimSpace(record[i])
		}
		c.Fields[name] = value

		if dst, ok := numeric[name]; ok {
			*dst(&c) = orZero(parseNumber(value))
			continue
		}
		switch name {
		case "dataset":
			c.Dataset = value
		case "designation":
			c.Designation = value
		case "target":
			c.Target = value
		}
	}
	return c
}

// leadingNumber matches the numeric prefix of a cell such as "12.5ppm".
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// parseNumber reads the leading decimal number of s and ignores any
// trailing unit or text.
func parseNumber(s string) (float64, error) {
	m := leadingNumber.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return strconv.ParseFloat(m, 64)
}

func orZero(v float64, err error) float64 {
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}
