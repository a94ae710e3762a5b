package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/roster-api/internal/models"
)

const facultyColumns = "id, name, color, created_at, updated_at"

// FacultyRepository manages persistence for faculties and their membership rows.
type FacultyRepository struct {
	db sqlx.ExtContext
}

// NewFacultyRepository constructs a FacultyRepository.
func NewFacultyRepository(db sqlx.ExtContext) *FacultyRepository {
	return &FacultyRepository{db: db}
}

// FindByID fetches a faculty with its students in enrollment order.
func (r *FacultyRepository) FindByID(ctx context.Context, id int64) (*models.Faculty, error) {
	return r.find(ctx, "SELECT "+facultyColumns+" FROM faculties WHERE id = $1", id)
}

// FindByIDForUpdate fetches a faculty and locks its row until the transaction ends.
func (r *FacultyRepository) FindByIDForUpdate(ctx context.Context, id int64) (*models.Faculty, error) {
	return r.find(ctx, "SELECT "+facultyColumns+" FROM faculties WHERE id = $1 FOR UPDATE", id)
}

func (r *FacultyRepository) find(ctx context.Context, query string, id int64) (*models.Faculty, error) {
	var faculty models.Faculty
	if err := sqlx.GetContext(ctx, r.db, &faculty, query, id); err != nil {
		return nil, err
	}
	members, err := r.MemberIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	faculty.StudentIDs = members
	return &faculty, nil
}

// ExistsByName checks for a case-insensitive name clash, optionally excluding one faculty.
func (r *FacultyRepository) ExistsByName(ctx context.Context, name string, excludeID int64) (bool, error) {
	query := "SELECT 1 FROM faculties WHERE LOWER(name) = LOWER($1)"
	args := []interface{}{name}
	if excludeID > 0 {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := sqlx.GetContext(ctx, r.db, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check faculty name: %w", err)
	}
	return true, nil
}

// List returns faculties whose name or colour matches the filter; an empty filter lists all.
func (r *FacultyRepository) List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, error) {
	var conditions []string
	var args []interface{}
	if name := strings.TrimSpace(filter.Name); name != "" {
		args = append(args, name)
		conditions = append(conditions, fmt.Sprintf("LOWER(name) = LOWER($%d)", len(args)))
	}
	if filter.Color != "" {
		args = append(args, filter.Color)
		conditions = append(conditions, fmt.Sprintf("color = $%d", len(args)))
	}
	query := "SELECT " + facultyColumns + " FROM faculties"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " OR ")
	}
	query += " ORDER BY id ASC"

	var faculties []models.Faculty
	if err := sqlx.SelectContext(ctx, r.db, &faculties, query, args...); err != nil {
		return nil, fmt.Errorf("list faculties: %w", err)
	}
	if len(faculties) == 0 {
		return faculties, nil
	}

	ids := make([]int64, len(faculties))
	for i, f := range faculties {
		ids[i] = f.ID
	}
	membersQuery, membersArgs, err := sqlx.In("SELECT faculty_id, student_id FROM faculty_members WHERE faculty_id IN (?) ORDER BY position ASC", ids)
	if err != nil {
		return nil, fmt.Errorf("build member query: %w", err)
	}
	var rows []struct {
		FacultyID int64 `db:"faculty_id"`
		StudentID int64 `db:"student_id"`
	}
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(membersQuery), membersArgs...); err != nil {
		return nil, fmt.Errorf("list faculty members: %w", err)
	}
	byFaculty := make(map[int64][]int64, len(faculties))
	for _, row := range rows {
		byFaculty[row.FacultyID] = append(byFaculty[row.FacultyID], row.StudentID)
	}
	for i := range faculties {
		faculties[i].StudentIDs = byFaculty[faculties[i].ID]
		if faculties[i].StudentIDs == nil {
			faculties[i].StudentIDs = []int64{}
		}
	}
	return faculties, nil
}

// Create inserts a faculty and assigns its identity.
func (r *FacultyRepository) Create(ctx context.Context, faculty *models.Faculty) error {
	now := time.Now().UTC()
	faculty.CreatedAt = now
	faculty.UpdatedAt = now
	const query = `INSERT INTO faculties (name, color, created_at, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, faculty.Name, faculty.Color, faculty.CreatedAt, faculty.UpdatedAt).Scan(&faculty.ID); err != nil {
		return fmt.Errorf("create faculty: %w", err)
	}
	if faculty.StudentIDs == nil {
		faculty.StudentIDs = []int64{}
	}
	return nil
}

// Update replaces the mutable faculty fields.
func (r *FacultyRepository) Update(ctx context.Context, faculty *models.Faculty) error {
	faculty.UpdatedAt = time.Now().UTC()
	const query = `UPDATE faculties SET name = $1, color = $2, updated_at = $3 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, faculty.Name, faculty.Color, faculty.UpdatedAt, faculty.ID)
	if err != nil {
		return fmt.Errorf("update faculty: %w", err)
	}
	return expectAffected(res, "update faculty")
}

// Delete removes a faculty row.
func (r *FacultyRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM faculties WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete faculty: %w", err)
	}
	return expectAffected(res, "delete faculty")
}

// MemberIDs lists the faculty's students in enrollment order.
func (r *FacultyRepository) MemberIDs(ctx context.Context, facultyID int64) ([]int64, error) {
	ids := []int64{}
	const query = `SELECT student_id FROM faculty_members WHERE faculty_id = $1 ORDER BY position ASC`
	if err := sqlx.SelectContext(ctx, r.db, &ids, query, facultyID); err != nil {
		return nil, fmt.Errorf("list faculty members: %w", err)
	}
	return ids, nil
}

// AddMember appends a student to the end of the faculty's list.
func (r *FacultyRepository) AddMember(ctx context.Context, facultyID, studentID int64) error {
	const query = `INSERT INTO faculty_members (faculty_id, student_id, enrolled_at) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, facultyID, studentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add faculty member: %w", err)
	}
	return nil
}

// RemoveMember drops a student from the faculty's list; sql.ErrNoRows when it was not there.
func (r *FacultyRepository) RemoveMember(ctx context.Context, facultyID, studentID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM faculty_members WHERE faculty_id = $1 AND student_id = $2`, facultyID, studentID)
	if err != nil {
		return fmt.Errorf("remove faculty member: %w", err)
	}
	return expectAffected(res, "remove faculty member")
}

func expectAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
