package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TableLayout describes one logical table of the store.
type TableLayout struct {
	Name string `yaml:"name"`
	// Header is written when the table has to be created; the live header
	// of an existing table always wins.
	Header   []string `yaml:"header"`
	IDColumn string   `yaml:"id_column"`
	IDPrefix string   `yaml:"id_prefix"`
	IDWidth  int      `yaml:"id_width"`
}

type PatientLayout struct {
	TableLayout `yaml:",inline"`
	NameColumn  string `yaml:"name_column"`
}

type VisitLayout struct {
	TableLayout   `yaml:",inline"`
	PatientColumn string `yaml:"patient_column"`
	NameColumn    string `yaml:"name_column"`
	DateColumn    string `yaml:"date_column"`
}

// Layout is the table layout file.
type Layout struct {
	Patients PatientLayout `yaml:"patients"`
	Visits   VisitLayout   `yaml:"visits"`
}

// DefaultLayout mirrors the columns of the patient intake form.
func DefaultLayout() Layout {
	return Layout{
		Patients: PatientLayout{
			TableLayout: TableLayout{
				Name: "Patients",
				Header: []string{
					"Timestamp", "Patient ID", "Full Name", "Date of Birth", "Age (in years)",
					"Sex", "Phone Number", "Address", "Smoking", "Alcohol use", "Past History",
				},
				IDColumn: "Patient ID",
				IDPrefix: "P",
				IDWidth:  4,
			},
			NameColumn: "Full Name",
		},
		Visits: VisitLayout{
			TableLayout: TableLayout{
				Name: "Visits",
				Header: []string{
					"Visit ID", "Patient ID", "Full Name", "Date of Visit", "Doctor's Name",
					"Chief Complaint", "Weight (kg)", "HbA1c", "Diagnosis",
					"MET", "SU", "DPP-4", "GLP-1", "SGLT2", "Other Medications", "Notes",
				},
				IDColumn: "Visit ID",
				IDPrefix: "V",
				IDWidth:  5,
			},
			PatientColumn: "Patient ID",
			NameColumn:    "Full Name",
			DateColumn:    "Date of Visit",
		},
	}
}

// LoadLayout reads path over the defaults. A missing file yields the
// defaults unchanged.
func LoadLayout(path string) (Layout, error) {
	l := DefaultLayout()
	if path == "" {
		return l, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return Layout{}, fmt.Errorf("read layout %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("parse layout %s: %w", path, err)
	}
	if err := l.Validate(); err != nil {
		return Layout{}, fmt.Errorf("layout %s: %w", path, err)
	}
	return l, nil
}

func (l Layout) Validate() error {
	if l.Patients.Name == "" || l.Visits.Name == "" {
		return errors.New("patients.name and visits.name are required")
	}
	if l.Patients.Name == l.Visits.Name {
		return fmt.Errorf("patients and visits must be different tables, both are %q", l.Patients.Name)
	}
	if l.Patients.IDColumn == "" {
		return errors.New("patients.id_column is required")
	}
	if l.Visits.PatientColumn == "" {
		return errors.New("visits.patient_column is required")
	}
	for _, t := range []TableLayout{l.Patients.TableLayout, l.Visits.TableLayout} {
		if t.IDWidth < 1 {
			return fmt.Errorf("%s: id_width must be at least 1", t.Name)
		}
	}
	return nil
}
