package models

import (
	"strings"
	"time"
)

// FacultyColor is the heraldic colour assigned to a faculty.
type FacultyColor string

// Supported faculty colours.
const (
	FacultyColorRed    FacultyColor = "RED"
	FacultyColorGreen  FacultyColor = "GREEN"
	FacultyColorBlue   FacultyColor = "BLUE"
	FacultyColorYellow FacultyColor = "YELLOW"
)

// ParseFacultyColor normalises s into a known colour.
func ParseFacultyColor(s string) (FacultyColor, bool) {
	switch c := FacultyColor(strings.ToUpper(strings.TrimSpace(s))); c {
	case FacultyColorRed, FacultyColorGreen, FacultyColorBlue, FacultyColorYellow:
		return c, true
	default:
		return "", false
	}
}

// Faculty groups students under a name and colour.
// StudentIDs is ordered by enrollment.
type Faculty struct {
	ID         int64        `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	Color      FacultyColor `db:"color" json:"color"`
	StudentIDs []int64      `db:"-" json:"students"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// FacultyFilter matches faculties by case-insensitive name or colour.
type FacultyFilter struct {
	Name  string
	Color FacultyColor
}
