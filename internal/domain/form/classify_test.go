package form

import (
	"reflect"
	"testing"
	"time"
)

func TestClassify_Rules(t *testing.T) {
	tests := []struct {
		label   string
		kind    WidgetKind
		def     string
		options []string
	}{
		{"Date of Visit", Date, "", nil},
		{"DOB", Date, "", nil},
		{"Sex", SingleChoice, "Male", []string{"Male", "Female", "Other"}},
		{"gender", SingleChoice, "Male", []string{"Male", "Female", "Other"}},
		{"Age (in years)", Number, "0", nil},
		{"Weight", Number, "0", nil},
		{"HbA1c", Number, "0", nil},
		{"Chief Complaint", MultilineText, "", nil},
		{"Diagnosis", MultilineText, "", nil},
		{"Smoking", SingleChoice, "Unknown", []string{"Yes", "No", "Unknown"}},
		{"Insulin Yes/No", SingleChoice, "Unknown", []string{"Yes", "No", "Unknown"}},
		{"SU", Checkbox, "", nil},
		{"sglt2", Checkbox, "", nil},
		{"Other Meds", Checkbox, "", nil},
		{"Random Column", SingleLineText, "", nil},
		{"Full Name", SingleLineText, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got := Classify(tt.label)
			if got.Kind != tt.kind {
				t.Errorf("Classify(%q).Kind = %s, want %s", tt.label, got.Kind, tt.kind)
			}
			if got.Default != tt.def {
				t.Errorf("Classify(%q).Default = %q, want %q", tt.label, got.Default, tt.def)
			}
			if !reflect.DeepEqual(got.Options, tt.options) {
				t.Errorf("Classify(%q).Options = %v, want %v", tt.label, got.Options, tt.options)
			}
		})
	}
}

func TestClassify_RuleOrderPrecedence(t *testing.T) {
	// "note" is checked before "med".
	if got := Classify("Medication Notes"); got.Kind != MultilineText {
		t.Errorf("expected multiline text for Medication Notes, got %s", got.Kind)
	}
	// "date" is checked before everything else.
	if got := Classify("Update Date"); got.Kind != Date {
		t.Errorf("expected date for Update Date, got %s", got.Kind)
	}
	// Exact sex/gender match only; substrings fall to later rules.
	if got := Classify("Sex of partner"); got.Kind != SingleLineText {
		t.Errorf("expected text for 'Sex of partner', got %s", got.Kind)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	for _, label := range []string{"Sex", "Date of Visit", "Alcohol use", "Random Column"} {
		a, b := Classify(label), Classify(label)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("Classify(%q) not stable: %+v vs %+v", label, a, b)
		}
	}
}

func TestClassify_OptionsNotShared(t *testing.T) {
	a := Classify("Sex")
	a.Options[0] = "changed"
	if b := Classify("Sex"); b.Options[0] != "Male" {
		t.Errorf("options leaked between calls: %v", b.Options)
	}
}

func TestClassification_DefaultValue(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	if got := Classify("Date of Visit").DefaultValue(now); got != "2024-03-05" {
		t.Errorf("expected today's date, got %q", got)
	}
	if got := Classify("Age").DefaultValue(now); got != "0" {
		t.Errorf("expected 0, got %q", got)
	}
	if got := Classify("Met").DefaultValue(now); got != "" {
		t.Errorf("expected unchecked checkbox to default to empty, got %q", got)
	}
}

func TestIsTimestamp(t *testing.T) {
	if !IsTimestamp("Timestamp") {
		t.Error("expected Timestamp to be a timestamp column")
	}
	if IsTimestamp("Date of Visit") {
		t.Error("did not expect Date of Visit to be a timestamp column")
	}
}
