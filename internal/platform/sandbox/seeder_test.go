package sandbox

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"
)

var seedNow = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

type recordingSink struct {
	patients []map[string]string
	visits   map[string][]map[string]string
	failAt   int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{visits: make(map[string][]map[string]string)}
}

func (s *recordingSink) AddPatient(_ context.Context, inputs map[string]string) (string, error) {
	if s.failAt > 0 && len(s.patients)+1 == s.failAt {
		return "", errors.New("store down")
	}
	s.patients = append(s.patients, inputs)
	return "P" + strconv.Itoa(len(s.patients)), nil
}

func (s *recordingSink) AddVisit(_ context.Context, patientID string, inputs map[string]string) error {
	s.visits[patientID] = append(s.visits[patientID], inputs)
	return nil
}

func TestDataGenerator_Reproducible(t *testing.T) {
	a := NewDataGenerator(7, seedNow).GeneratePatient()
	b := NewDataGenerator(7, seedNow).GeneratePatient()
	if !reflect.DeepEqual(a, b) {
		t.Errorf("expected identical patients for the same seed:\n%v\n%v", a, b)
	}
}

func TestDataGenerator_GeneratePatient(t *testing.T) {
	gen := NewDataGenerator(42, seedNow)
	for i := 0; i < 50; i++ {
		p := gen.GeneratePatient()
		if p["Full Name"] == "" {
			t.Fatal("expected a name")
		}
		if p["Sex"] != "Male" && p["Sex"] != "Female" {
			t.Errorf("unexpected sex %q", p["Sex"])
		}
		dob, err := time.Parse("2006-01-02", p["Date of Birth"])
		if err != nil {
			t.Fatalf("bad date of birth %q", p["Date of Birth"])
		}
		age, err := strconv.Atoi(p["Age (in years)"])
		if err != nil || age != ageOn(dob, seedNow) {
			t.Errorf("age %q does not match date of birth %s", p["Age (in years)"], dob.Format("2006-01-02"))
		}
		if phone := p["Phone Number"]; len(phone) != 10 || phone[0] < '6' {
			t.Errorf("unexpected phone %q", phone)
		}
	}
}

func TestDataGenerator_GenerateVisit(t *testing.T) {
	v := NewDataGenerator(42, seedNow).GenerateVisit(30)

	if v["Date of Visit"] != "2024-04-17" {
		t.Errorf("expected visit 30 days back, got %s", v["Date of Visit"])
	}
	if _, err := strconv.ParseFloat(v["HbA1c"], 64); err != nil {
		t.Errorf("expected numeric HbA1c, got %q", v["HbA1c"])
	}
	for _, d := range drugs {
		if got, ok := v[d]; ok && got != "Yes" {
			t.Errorf("%s: expected Yes or absent, got %q", d, got)
		}
	}
}

func TestSeeder_Run(t *testing.T) {
	sink := newRecordingSink()
	res, err := NewSeeder(SeedConfig{PatientCount: 4, VisitsPerPatient: 2, Seed: 3}, seedNow).Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Patients != 4 || res.Visits != 8 {
		t.Errorf("unexpected result %+v", res)
	}

	visits := sink.visits["P1"]
	if len(visits) != 2 {
		t.Fatalf("expected 2 visits for P1, got %d", len(visits))
	}
	if visits[0]["Date of Visit"] >= visits[1]["Date of Visit"] {
		t.Errorf("expected visits oldest first, got %s then %s", visits[0]["Date of Visit"], visits[1]["Date of Visit"])
	}
}

func TestSeeder_StopsOnError(t *testing.T) {
	sink := newRecordingSink()
	sink.failAt = 3

	res, err := NewSeeder(SeedConfig{PatientCount: 5, VisitsPerPatient: 1, Seed: 1}, seedNow).Run(context.Background(), sink)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Patients != 2 || res.Visits != 2 {
		t.Errorf("expected partial result of 2 patients, got %+v", res)
	}
}

func TestSeeder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSeeder(DefaultSeedConfig(), seedNow).Run(ctx, newRecordingSink())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
