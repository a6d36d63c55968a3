package people

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Sample is a small built-in record set in the CSV layout LoadCSV reads.
//
//go:embed persons.csv
var Sample []byte

// DateLayout is the dd.MM.yyyy layout of the date columns.
const DateLayout = "02.01.2006"

// LoadOptions control LoadCSV.
type LoadOptions struct {
	// Encoding names the input charset, such as "utf-8" or
	// "windows-1252". Empty means UTF-8.
	Encoding string
	// Today is the reference date for the age of living persons. Zero means
	// the current date.
	Today  time.Time
	Logger *slog.Logger
}

// Columns of a record: rank, full name, gender, birth date, death date or
// "Living", age, residence.
const (
	colName      = 1
	colGender    = 2
	colBirth     = 3
	colDeath     = 4
	colResidence = 6
	numCols      = 7
)

// LoadCSV reads ';'-separated person records. Records that fail to parse
// are logged and skipped. IDs are assigned in input order.
func LoadCSV(r io.Reader, opts LoadOptions) ([]Person, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	today := opts.Today
	if today.IsZero() {
		today = time.Now()
	}
	if opts.Encoding != "" {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, fmt.Errorf("encoding %q: %w", opts.Encoding, err)
		}
		r = transform.NewReader(r, enc.NewDecoder())
	}

	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var out []Person
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				logger.Warn("skipping malformed record", "line", pe.Line, "error", pe.Err)
				continue
			}
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		p, err := parseRecord(rec, today)
		if err != nil {
			logger.Warn("skipping record", "record", strings.Join(rec, ";"), "error", err)
			continue
		}
		p.ID = len(out) + 1
		out = append(out, p)
	}
	return out, nil
}

// LoadSample parses Sample.
func LoadSample(opts LoadOptions) ([]Person, error) {
	return LoadCSV(bytes.NewReader(Sample), opts)
}

func parseRecord(rec []string, today time.Time) (Person, error) {
	if len(rec) < numCols {
		return Person{}, fmt.Errorf("expected %d columns, got %d", numCols, len(rec))
	}
	birth, err := time.Parse(DateLayout, strings.TrimSpace(rec[colBirth]))
	if err != nil {
		return Person{}, fmt.Errorf("birth date: %w", err)
	}
	var death *time.Time
	if d := strings.TrimSpace(rec[colDeath]); !strings.EqualFold(d, "Living") {
		t, err := time.Parse(DateLayout, d)
		if err != nil {
			return Person{}, fmt.Errorf("death date: %w", err)
		}
		death = &t
	}
	p := NewPerson(rec[colName])
	if p.LastName == "" {
		return Person{}, fmt.Errorf("name %q has no last name", rec[colName])
	}
	p.BirthDate = birth
	p.DeathDate = death
	p.Residence = strings.TrimSpace(rec[colResidence])
	if strings.EqualFold(strings.TrimSpace(rec[colGender]), "f") {
		p.Gender = Female
	}
	end := today
	if death != nil {
		end = *death
	}
	p.Age = AgeAt(birth, end)
	return p, nil
}
