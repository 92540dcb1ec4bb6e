package models

import "time"

// GeneralSpecialty is the specialty used when no routing rule matches.
const GeneralSpecialty = "General"

// Reviewer is a clinical staff member eligible to review studies.
type Reviewer struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Specialties []string  `json:"specialties" yaml:"specialties"`
	MaxWorkload int       `json:"max_workload" yaml:"max_workload"`
	Available   bool      `json:"available" yaml:"available"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}

func (r *Reviewer) HasSpecialty(specialty string) bool {
	for _, s := range r.Specialties {
		if s == specialty {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate roster state.
func (r *Reviewer) Clone() *Reviewer {
	if r == nil {
		return nil
	}
	c := *r
	c.Specialties = append([]string(nil), r.Specialties...)
	return &c
}
