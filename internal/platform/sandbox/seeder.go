// Package sandbox generates synthetic patients and visits for demo and
// on-boarding stores. Output is reproducible for a given seed.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// SeedConfig controls the volume of generated data.
type SeedConfig struct {
	PatientCount     int
	VisitsPerPatient int
	Seed             int64
}

// DefaultSeedConfig returns a small demo data set.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:     20,
		VisitsPerPatient: 3,
		Seed:             1,
	}
}

// Sink receives generated rows. Inputs are keyed by column name; columns the
// target table does not have are ignored by the sink.
type Sink interface {
	AddPatient(ctx context.Context, inputs map[string]string) (string, error)
	AddVisit(ctx context.Context, patientID string, inputs map[string]string) error
}

// SeedResult summarizes the output of a seed run.
type SeedResult struct {
	Patients int           `json:"patients"`
	Visits   int           `json:"visits"`
	Duration time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Value pools
// ---------------------------------------------------------------------------

var (
	firstNamesMale = []string{
		"Arjun", "Ravi", "Suresh", "Manoj", "Vikram", "Rahul", "Anil",
		"Prakash", "Sanjay", "Kiran", "Naveen", "Deepak", "Rajesh", "Ganesh",
	}
	firstNamesFemale = []string{
		"Asha", "Priya", "Lakshmi", "Meena", "Kavya", "Divya", "Anita",
		"Sunita", "Rekha", "Pooja", "Shalini", "Nisha", "Geetha", "Revathi",
	}
	lastNames = []string{
		"Rao", "Kumar", "Sharma", "Iyer", "Nair", "Reddy", "Menon", "Das",
		"Patel", "Gupta", "Pillai", "Shetty", "Joshi", "Verma",
	}
	streets = []string{
		"12 MG Road", "45 Temple Street", "7 Lake View Layout", "221 Station Road",
		"9 Gandhi Nagar", "31 Park Avenue", "18 Hill Side Colony",
	}
	cities = []string{
		"Bengaluru", "Chennai", "Hyderabad", "Mysuru", "Kochi", "Pune",
	}
	doctors = []string{
		"Dr. Mehta", "Dr. Krishnan", "Dr. Fernandes", "Dr. Banerjee",
	}
	complaints = []string{
		"Routine review", "Fatigue", "Increased thirst", "Tingling in feet",
		"Blurred vision", "Weight gain", "Frequent urination",
	}
	diagnoses = []string{
		"Type 2 diabetes mellitus", "Type 2 diabetes with hypertension",
		"Prediabetes", "Type 2 diabetes with dyslipidemia",
	}
	histories = []string{
		"", "Hypertension", "Hypothyroidism", "Dyslipidemia", "Coronary artery disease",
	}
	statuses = []string{"Yes", "No", "Unknown"}
	drugs    = []string{"MET", "SU", "DPP-4", "GLP-1", "SGLT2"}
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces row inputs for the default patient and visit
// columns.
type DataGenerator struct {
	rng *rand.Rand
	now time.Time
}

func NewDataGenerator(seed int64, now time.Time) *DataGenerator {
	return &DataGenerator{rng: rand.New(rand.NewSource(seed)), now: now}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) chance(pct int) bool {
	return g.rng.Intn(100) < pct
}

func (g *DataGenerator) randomPhone() string {
	// Mobile numbers start with 6-9 so the value survives numeric columns.
	return strconv.Itoa(6+g.rng.Intn(4)) + fmt.Sprintf("%09d", g.rng.Intn(1_000_000_000))
}

// GeneratePatient returns inputs for one patient row.
func (g *DataGenerator) GeneratePatient() map[string]string {
	sex, first := "Male", g.pick(firstNamesMale)
	if g.chance(50) {
		sex, first = "Female", g.pick(firstNamesFemale)
	}

	age := 25 + g.rng.Intn(55)
	dob := g.now.AddDate(-age, 0, -g.rng.Intn(365))
	return map[string]string{
		"Full Name":      first + " " + g.pick(lastNames),
		"Date of Birth":  dob.Format("2006-01-02"),
		"Age (in years)": strconv.Itoa(ageOn(dob, g.now)),
		"Sex":            sex,
		"Phone Number":   g.randomPhone(),
		"Address":        g.pick(streets) + ", " + g.pick(cities),
		"Smoking":        g.pick(statuses),
		"Alcohol use":    g.pick(statuses),
		"Past History":   g.pick(histories),
	}
}

// GenerateVisit returns inputs for one visit row dated daysAgo before now.
func (g *DataGenerator) GenerateVisit(daysAgo int) map[string]string {
	v := map[string]string{
		"Date of Visit":   g.now.AddDate(0, 0, -daysAgo).Format("2006-01-02"),
		"Doctor's Name":   g.pick(doctors),
		"Chief Complaint": g.pick(complaints),
		"Weight (kg)":     strconv.FormatFloat(float64(450+g.rng.Intn(500))/10, 'f', 1, 64),
		"HbA1c":           strconv.FormatFloat(float64(55+g.rng.Intn(60))/10, 'f', 1, 64),
		"Diagnosis":       g.pick(diagnoses),
	}
	for _, d := range drugs {
		if g.chance(40) {
			v[d] = "Yes"
		}
	}
	if g.chance(30) {
		v["Notes"] = "Advised diet control and regular exercise."
	}
	return v
}

func ageOn(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.YearDay() < dob.YearDay() {
		age--
	}
	return age
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Seeder writes a generated data set through a Sink.
type Seeder struct {
	config SeedConfig
	gen    *DataGenerator
}

func NewSeeder(config SeedConfig, now time.Time) *Seeder {
	return &Seeder{config: config, gen: NewDataGenerator(config.Seed, now)}
}

// Run writes PatientCount patients, each followed by VisitsPerPatient visits
// spaced roughly three months apart. It stops at the first failed write.
func (s *Seeder) Run(ctx context.Context, sink Sink) (*SeedResult, error) {
	start := time.Now()
	res := &SeedResult{}

	for i := 0; i < s.config.PatientCount; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		id, err := sink.AddPatient(ctx, s.gen.GeneratePatient())
		if err != nil {
			return res, fmt.Errorf("seed patient %d: %w", i+1, err)
		}
		res.Patients++

		for j := s.config.VisitsPerPatient; j > 0; j-- {
			daysAgo := j*90 - s.gen.rng.Intn(30)
			if err := sink.AddVisit(ctx, id, s.gen.GenerateVisit(daysAgo)); err != nil {
				return res, fmt.Errorf("seed visit for %s: %w", id, err)
			}
			res.Visits++
		}
	}

	res.Duration = time.Since(start)
	return res, nil
}
