package form

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Context carries what is already known when a form is built.
type Context struct {
	// Fixed columns are rendered read-only and written unchanged.
	Fixed map[string]string
	// Now seeds date defaults. Zero means time.Now().
	Now time.Time
}

// Field is one input of a plan.
type Field struct {
	Column   string         `json:"column"`
	ReadOnly bool           `json:"read_only"`
	Value    string         `json:"value"`
	Widget   Classification `json:"widget"`
}

// Plan is the field-by-field input plan for one table row.
type Plan struct {
	Columns []string `json:"columns"`
	Fields  []Field  `json:"fields"`
}

// Submission is a normalized row ready for a positional append.
type Submission struct {
	Columns []string `json:"columns"`
	Values  []string `json:"values"`
}

// Get returns the submitted value for col.
func (s *Submission) Get(col string) string {
	for i, c := range s.Columns {
		if c == col {
			return s.Values[i]
		}
	}
	return ""
}

// ValidationError lists the fields whose input could not be coerced.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	cols := make([]string, 0, len(e.Fields))
	for c := range e.Fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s: %s", c, e.Fields[c]))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Build produces a plan with one field per column, in column order.
func Build(columns []string, fc Context) *Plan {
	now := fc.Now
	if now.IsZero() {
		now = time.Now()
	}

	p := &Plan{
		Columns: append([]string(nil), columns...),
		Fields:  make([]Field, 0, len(columns)),
	}
	for _, col := range columns {
		if v, ok := fc.Fixed[col]; ok {
			p.Fields = append(p.Fields, Field{
				Column:   col,
				ReadOnly: true,
				Value:    v,
				Widget:   Classification{Kind: SingleLineText},
			})
			continue
		}
		w := Classify(col)
		p.Fields = append(p.Fields, Field{
			Column: col,
			Value:  w.DefaultValue(now),
			Widget: w,
		})
	}
	return p
}

// Submit resolves every field to its serialized value. Missing inputs take
// the field's default; only values the widget could not have produced are
// rejected.
func (p *Plan) Submit(inputs map[string]string) (*Submission, error) {
	out := &Submission{
		Columns: append([]string(nil), p.Columns...),
		Values:  make([]string, len(p.Fields)),
	}
	var bad map[string]string

	for i, f := range p.Fields {
		if f.ReadOnly {
			out.Values[i] = f.Value
			continue
		}
		raw, given := inputs[f.Column]
		v, err := normalize(f, raw, given)
		if err != nil {
			if bad == nil {
				bad = make(map[string]string)
			}
			bad[f.Column] = err.Error()
			continue
		}
		out.Values[i] = v
	}

	if bad != nil {
		return nil, &ValidationError{Fields: bad}
	}
	return out, nil
}

func normalize(f Field, raw string, given bool) (string, error) {
	switch f.Widget.Kind {
	case Checkbox:
		if given && truthy(raw) {
			return CheckedValue, nil
		}
		return "", nil
	case MultilineText, SingleLineText:
		return raw, nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return f.Value, nil
	}

	switch f.Widget.Kind {
	case Date:
		t, ok := ParseDate(raw)
		if !ok {
			return "", fmt.Errorf("%q is not a date", raw)
		}
		return t.Format(DateLayout), nil
	case Number:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return "", fmt.Errorf("%q is not a number", raw)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case SingleChoice:
		for _, opt := range f.Widget.Options {
			if strings.EqualFold(opt, raw) {
				return opt, nil
			}
		}
		return "", fmt.Errorf("%q is not one of %s", raw, strings.Join(f.Widget.Options, ", "))
	}
	return raw, nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "on", "1", "checked", "y":
		return true
	}
	return false
}

var dateLayouts = []string{
	DateLayout,
	TimestampLayout,
	time.RFC3339,
	"2006-01-02T15:04",
	"2006/01/02",
	"1/2/2006",
	"1/2/2006 15:04:05",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// ParseDate accepts the date spellings found in spreadsheet cells.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
