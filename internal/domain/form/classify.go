package form

import (
	"fmt"
	"strings"
	"time"
)

// WidgetKind is the input widget chosen for a column.
type WidgetKind int

const (
	SingleLineText WidgetKind = iota
	MultilineText
	Date
	Number
	SingleChoice
	Checkbox
)

func (k WidgetKind) String() string {
	switch k {
	case Date:
		return "date"
	case Number:
		return "number"
	case SingleChoice:
		return "single_choice"
	case MultilineText:
		return "multiline_text"
	case Checkbox:
		return "checkbox"
	default:
		return "text"
	}
}

// MarshalText lets the kind appear by name in JSON form plans.
func (k WidgetKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *WidgetKind) UnmarshalText(b []byte) error {
	for _, kind := range []WidgetKind{SingleLineText, MultilineText, Date, Number, SingleChoice, Checkbox} {
		if kind.String() == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown widget kind %q", b)
}

// DateLayout is the serialized form of every date value written to a table.
const DateLayout = "2006-01-02"

// TimestampLayout is used for auto-filled timestamp columns.
const TimestampLayout = "2006-01-02 15:04:05"

// CheckedValue is what a ticked checkbox writes. An unticked one writes "".
const CheckedValue = "Yes"

var (
	genderOptions = []string{"Male", "Female", "Other"}
	statusOptions = []string{"Yes", "No", "Unknown"}

	numberHints    = []string{"age", "height", "weight", "years", "duration", "hb", "hba", "count", "number"}
	multilineHints = []string{"note", "remark", "impression", "history", "hpi", "chief", "diagnosis", "comments", "notes"}
	statusHints    = []string{"yes/no", "status", "use", "smoking", "alcohol"}
	medicationCode = map[string]bool{"su": true, "met": true, "dpp-4": true, "glp-1": true, "sglt2": true}
)

// Classification is the widget and default derived from a column label.
type Classification struct {
	Kind    WidgetKind `json:"kind"`
	Options []string   `json:"options,omitempty"`
	Default string     `json:"default"`
}

// DefaultValue returns the serialized default. Date widgets default to the
// day of now, everything else to the static Default.
func (c Classification) DefaultValue(now time.Time) string {
	if c.Kind == Date {
		return now.Format(DateLayout)
	}
	return c.Default
}

// Classify maps a column label to a widget. Rules are checked in order and
// the first match wins, so "Medication Notes" is multiline text, not a
// checkbox. Unknown labels fall through to single-line text.
func Classify(label string) Classification {
	name := strings.ToLower(strings.TrimSpace(label))

	switch {
	case strings.Contains(name, "date") || strings.Contains(name, "dob"):
		return Classification{Kind: Date}
	case name == "sex" || name == "gender":
		return Classification{Kind: SingleChoice, Options: clone(genderOptions), Default: "Male"}
	case containsAny(name, numberHints):
		return Classification{Kind: Number, Default: "0"}
	case containsAny(name, multilineHints):
		return Classification{Kind: MultilineText}
	case containsAny(name, statusHints):
		return Classification{Kind: SingleChoice, Options: clone(statusOptions), Default: "Unknown"}
	case medicationCode[name] || strings.Contains(name, "med"):
		return Classification{Kind: Checkbox}
	}
	return Classification{Kind: SingleLineText}
}

// IsTimestamp reports whether a column holds an auto-filled creation time.
func IsTimestamp(label string) bool {
	return strings.Contains(strings.ToLower(label), "timestamp")
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
