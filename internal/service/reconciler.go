package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/repository"
	appErrors "github.com/noah-isme/roster-api/pkg/errors"
)

// Reconciler keeps Student.FacultyID and Faculty.StudentIDs describing the same relation.
// Every mutation runs inside the caller's unit of work.
type Reconciler struct {
	store  repository.Transactor
	logger *zap.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store repository.Transactor, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger}
}

// Enroll inserts the student and appends it to its faculty's member list.
func (r *Reconciler) Enroll(ctx context.Context, tx repository.Tx, student *models.Student) error {
	if _, err := r.lockFaculty(ctx, tx, student.FacultyID); err != nil {
		return err
	}
	if err := tx.Students().Create(ctx, student); err != nil {
		return appErrors.Internal(err, "failed to create student")
	}
	if err := tx.Faculties().AddMember(ctx, student.FacultyID, student.ID); err != nil {
		return appErrors.Internal(err, "failed to enroll student")
	}
	return nil
}

// Transfer moves the student to newFacultyID and persists the student row.
// The new faculty is resolved before any membership is touched.
func (r *Reconciler) Transfer(ctx context.Context, tx repository.Tx, student *models.Student, newFacultyID int64) error {
	oldFacultyID := student.FacultyID
	if oldFacultyID == newFacultyID {
		return r.save(ctx, tx, student)
	}
	if _, err := tx.Faculties().FindByID(ctx, newFacultyID); err != nil {
		return facultyLookupError(err, newFacultyID)
	}

	first, second := oldFacultyID, newFacultyID
	if second < first {
		first, second = second, first
	}
	for _, id := range []int64{first, second} {
		if _, err := tx.Faculties().FindByIDForUpdate(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) && id == oldFacultyID {
				continue
			}
			return facultyLookupError(err, id)
		}
	}

	if err := tx.Faculties().RemoveMember(ctx, oldFacultyID, student.ID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Internal(err, "failed to remove student from faculty")
		}
		r.logger.Warn("student missing from its faculty during transfer",
			zap.Int64("student_id", student.ID), zap.Int64("faculty_id", oldFacultyID))
	}
	if err := tx.Faculties().AddMember(ctx, newFacultyID, student.ID); err != nil {
		return appErrors.Internal(err, "failed to add student to faculty")
	}
	student.FacultyID = newFacultyID
	return r.save(ctx, tx, student)
}

// Withdraw removes the student together with its membership and avatar row.
// It returns the path of the avatar file that is no longer referenced, if any.
func (r *Reconciler) Withdraw(ctx context.Context, tx repository.Tx, student *models.Student) (string, error) {
	if err := tx.Faculties().RemoveMember(ctx, student.FacultyID, student.ID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Internal(err, "failed to remove student from faculty")
		}
		r.logger.Warn("student missing from its faculty during withdrawal",
			zap.Int64("student_id", student.ID), zap.Int64("faculty_id", student.FacultyID))
	}

	var orphan string
	avatar, err := tx.Avatars().FindByStudentID(ctx, student.ID)
	switch {
	case err == nil:
		orphan = avatar.FilePath
		if err := tx.Avatars().DeleteByStudentID(ctx, student.ID); err != nil {
			return "", appErrors.Internal(err, "failed to delete avatar")
		}
	case !errors.Is(err, sql.ErrNoRows):
		return "", appErrors.Internal(err, "failed to load avatar")
	}

	if err := tx.Students().Delete(ctx, student.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", studentNotFound(student.ID)
		}
		return "", appErrors.Internal(err, "failed to delete student")
	}
	return orphan, nil
}

// Check scans every faculty and student and reports membership mismatches.
func (r *Reconciler) Check(ctx context.Context) (*models.ConsistencyReport, error) {
	report := &models.ConsistencyReport{Issues: []models.ConsistencyIssue{}}
	err := r.store.WithinTx(ctx, func(tx repository.Tx) error {
		faculties, err := tx.Faculties().List(ctx, models.FacultyFilter{})
		if err != nil {
			return appErrors.Internal(err, "failed to list faculties")
		}
		students, err := allStudents(ctx, tx.Students())
		if err != nil {
			return err
		}
		report.Faculties = len(faculties)
		report.Students = len(students)

		facultyOf := make(map[int64]int64, len(students))
		for _, s := range students {
			facultyOf[s.ID] = s.FacultyID
		}
		listed := make(map[int64]int64, len(students))
		for _, f := range faculties {
			for _, sid := range f.StudentIDs {
				if prev, dup := listed[sid]; dup {
					report.Issues = append(report.Issues, models.ConsistencyIssue{Kind: models.IssueDuplicateMember, StudentID: sid, FacultyID: prev})
					continue
				}
				listed[sid] = f.ID
				if owner, ok := facultyOf[sid]; !ok || owner != f.ID {
					report.Issues = append(report.Issues, models.ConsistencyIssue{Kind: models.IssueStaleMembership, StudentID: sid, FacultyID: f.ID})
				}
			}
		}
		for _, s := range students {
			if listed[s.ID] != s.FacultyID {
				report.Issues = append(report.Issues, models.ConsistencyIssue{Kind: models.IssueMissingMembership, StudentID: s.ID, FacultyID: s.FacultyID})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.Consistent() {
		r.logger.Warn("roster inconsistency detected", zap.Int("issues", len(report.Issues)))
	}
	return report, nil
}

func (r *Reconciler) lockFaculty(ctx context.Context, tx repository.Tx, id int64) (*models.Faculty, error) {
	faculty, err := tx.Faculties().FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, facultyLookupError(err, id)
	}
	return faculty, nil
}

func (r *Reconciler) save(ctx context.Context, tx repository.Tx, student *models.Student) error {
	if err := tx.Students().Update(ctx, student); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return studentNotFound(student.ID)
		}
		return appErrors.Internal(err, "failed to update student")
	}
	return nil
}

func allStudents(ctx context.Context, store repository.StudentStore) ([]models.Student, error) {
	var out []models.Student
	filter := models.StudentFilter{Page: 1, PageSize: models.MaxPageSize}
	for {
		page, total, err := store.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list students")
		}
		out = append(out, page...)
		if len(page) == 0 || len(out) >= total {
			return out, nil
		}
		filter.Page++
	}
}

func studentNotFound(id int64) *appErrors.Error {
	return appErrors.WithDetail(appErrors.ErrStudentNotFound, "student_id", strconv.FormatInt(id, 10))
}

func facultyNotFound(id int64) *appErrors.Error {
	err := appErrors.WithDetail(appErrors.ErrFacultyNotFound, "field", "faculty_id")
	return appErrors.WithDetail(err, "faculty_id", strconv.FormatInt(id, 10))
}

func facultyLookupError(err error, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return facultyNotFound(id)
	}
	return appErrors.Internal(err, "failed to load faculty")
}

func studentLookupError(err error, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return studentNotFound(id)
	}
	return appErrors.Internal(err, "failed to load student")
}
