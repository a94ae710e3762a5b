package models

import (
	"math"
	"time"
)

// MinStudentAge is the youngest age accepted for enrollment.
const MinStudentAge = 16

// Student is a person enrolled in exactly one faculty.
type Student struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Age       int       `db:"age" json:"age"`
	FacultyID int64     `db:"faculty_id" json:"faculty_id"`
	AvatarID  *int64    `db:"avatar_id" json:"avatar_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Sortable student columns.
const (
	StudentSortID   = "id"
	StudentSortName = "name"
	StudentSortAge  = "age"
)

// StudentFilter drives the sorted, paged student listing.
type StudentFilter struct {
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// MaxPage keeps (Page-1)*PageSize representable for any accepted page size.
const MaxPage = math.MaxInt / MaxPageSize

// Normalize fills defaults and clamps paging values.
func (f StudentFilter) Normalize() StudentFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.PageSize <= 0 || f.PageSize > MaxPageSize {
		f.PageSize = DefaultPageSize
	}
	switch f.SortBy {
	case StudentSortID, StudentSortName, StudentSortAge:
	default:
		f.SortBy = StudentSortID
	}
	if f.SortOrder != SortDesc {
		f.SortOrder = SortAsc
	}
	return f
}

// Offset returns the zero-based index of the first row on the page.
// It saturates at math.MaxInt instead of overflowing.
func (f StudentFilter) Offset() int {
	if f.Page <= 1 || f.PageSize <= 0 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.PageSize {
		return math.MaxInt
	}
	return (f.Page - 1) * f.PageSize
}

// AgeRange is an inclusive age interval.
type AgeRange struct {
	Min int
	Max int
}

// NewAgeRange orders the bounds so callers may pass them either way round.
func NewAgeRange(a, b int) AgeRange {
	if a > b {
		a, b = b, a
	}
	return AgeRange{Min: a, Max: b}
}

// Contains reports whether age lies within the range.
func (r AgeRange) Contains(age int) bool {
	return age >= r.Min && age <= r.Max
}

// StudentStats aggregates the whole student collection.
// AverageAge is nil when there are no students.
type StudentStats struct {
	Count      int      `db:"count" json:"count"`
	AverageAge *float64 `db:"average_age" json:"average_age"`
}
