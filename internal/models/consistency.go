package models

// ConsistencyIssue describes one break of the faculty/student membership invariant.
type ConsistencyIssue struct {
	Kind      string `json:"kind"`
	StudentID int64  `json:"student_id"`
	FacultyID int64  `json:"faculty_id"`
}

// Consistency issue kinds.
const (
	IssueMissingMembership = "missing_membership"
	IssueStaleMembership   = "stale_membership"
	IssueDuplicateMember   = "duplicate_membership"
)

// ConsistencyReport is the outcome of a full membership scan.
type ConsistencyReport struct {
	Students  int                `json:"students"`
	Faculties int                `json:"faculties"`
	Issues    []ConsistencyIssue `json:"issues"`
}

// Consistent reports whether the scan found no issues.
func (r ConsistencyReport) Consistent() bool {
	return len(r.Issues) == 0
}
