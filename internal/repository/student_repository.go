package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/roster-api/internal/models"
)

const studentColumns = "id, name, age, faculty_id, avatar_id, created_at, updated_at"

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db sqlx.ExtContext
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db sqlx.ExtContext) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns one page of students ordered by the requested column with id as tiebreak.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	filter = filter.Normalize()
	allowedSorts := map[string]string{
		models.StudentSortID:   "id",
		models.StudentSortName: "name",
		models.StudentSortAge:  "age",
	}
	column := allowedSorts[filter.SortBy]
	order := strings.ToUpper(filter.SortOrder)

	orderBy := fmt.Sprintf("%s %s", column, order)
	if column != "id" {
		orderBy += ", id ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM students ORDER BY %s LIMIT %d OFFSET %d", studentColumns, orderBy, filter.PageSize, filter.Offset())

	students := []models.Student{}
	if err := sqlx.SelectContext(ctx, r.db, &students, query); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, "SELECT COUNT(*) FROM students"); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// ListByAgeRange returns students whose age lies within the inclusive range.
func (r *StudentRepository) ListByAgeRange(ctx context.Context, ages models.AgeRange) ([]models.Student, error) {
	students := []models.Student{}
	query := "SELECT " + studentColumns + " FROM students WHERE age BETWEEN $1 AND $2 ORDER BY age ASC, id ASC"
	if err := sqlx.SelectContext(ctx, r.db, &students, query, ages.Min, ages.Max); err != nil {
		return nil, fmt.Errorf("list students by age: %w", err)
	}
	return students, nil
}

// ListByFaculty returns the students of one faculty in enrollment order.
func (r *StudentRepository) ListByFaculty(ctx context.Context, facultyID int64) ([]models.Student, error) {
	students := []models.Student{}
	const query = `SELECT s.id, s.name, s.age, s.faculty_id, s.avatar_id, s.created_at, s.updated_at
        FROM students s JOIN faculty_members m ON m.student_id = s.id
        WHERE m.faculty_id = $1 ORDER BY m.position ASC`
	if err := sqlx.SelectContext(ctx, r.db, &students, query, facultyID); err != nil {
		return nil, fmt.Errorf("list faculty students: %w", err)
	}
	return students, nil
}

// Stats aggregates the count and mean age of all students.
func (r *StudentRepository) Stats(ctx context.Context) (models.StudentStats, error) {
	var stats models.StudentStats
	const query = `SELECT COUNT(*) AS count, AVG(age)::float8 AS average_age FROM students`
	if err := sqlx.GetContext(ctx, r.db, &stats, query); err != nil {
		return models.StudentStats{}, fmt.Errorf("student stats: %w", err)
	}
	return stats, nil
}

// FindByID fetches a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id int64) (*models.Student, error) {
	var student models.Student
	if err := sqlx.GetContext(ctx, r.db, &student, "SELECT "+studentColumns+" FROM students WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByIDForUpdate fetches a student and locks its row until the transaction ends.
func (r *StudentRepository) FindByIDForUpdate(ctx context.Context, id int64) (*models.Student, error) {
	var student models.Student
	if err := sqlx.GetContext(ctx, r.db, &student, "SELECT "+studentColumns+" FROM students WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &student, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (name, age, faculty_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, student.Name, student.Age, student.FacultyID, student.CreatedAt, student.UpdatedAt).Scan(&student.ID); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET name = $1, age = $2, faculty_id = $3, updated_at = $4 WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, student.Name, student.Age, student.FacultyID, student.UpdatedAt, student.ID)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return expectAffected(res, "update student")
}

// Delete removes a student row.
func (r *StudentRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return expectAffected(res, "delete student")
}

// AttachAvatar points the student at its avatar row.
func (r *StudentRepository) AttachAvatar(ctx context.Context, studentID, avatarID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET avatar_id = $1, updated_at = $2 WHERE id = $3`, avatarID, time.Now().UTC(), studentID)
	if err != nil {
		return fmt.Errorf("attach avatar: %w", err)
	}
	return expectAffected(res, "attach avatar")
}
