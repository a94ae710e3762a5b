package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/roster-api/internal/models"
)

// ErrUniqueViolation is reported by stores that enforce uniqueness without Postgres.
var ErrUniqueViolation = errors.New("unique constraint violated")

// FacultyStore persists faculties and their ordered membership lists.
// Lookups of missing rows return sql.ErrNoRows.
type FacultyStore interface {
	FindByID(ctx context.Context, id int64) (*models.Faculty, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*models.Faculty, error)
	ExistsByName(ctx context.Context, name string, excludeID int64) (bool, error)
	List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, error)
	Create(ctx context.Context, faculty *models.Faculty) error
	Update(ctx context.Context, faculty *models.Faculty) error
	Delete(ctx context.Context, id int64) error
	MemberIDs(ctx context.Context, facultyID int64) ([]int64, error)
	AddMember(ctx context.Context, facultyID, studentID int64) error
	RemoveMember(ctx context.Context, facultyID, studentID int64) error
}

// StudentStore persists students.
type StudentStore interface {
	FindByID(ctx context.Context, id int64) (*models.Student, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	ListByAgeRange(ctx context.Context, ages models.AgeRange) ([]models.Student, error)
	ListByFaculty(ctx context.Context, facultyID int64) ([]models.Student, error)
	Stats(ctx context.Context) (models.StudentStats, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id int64) error
	AttachAvatar(ctx context.Context, studentID, avatarID int64) error
}

// AvatarStore persists at most one avatar per student.
type AvatarStore interface {
	FindByStudentID(ctx context.Context, studentID int64) (*models.Avatar, error)
	Upsert(ctx context.Context, avatar *models.Avatar) error
	DeleteByStudentID(ctx context.Context, studentID int64) error
}

// Tx exposes the stores bound to one unit of work.
type Tx interface {
	Faculties() FacultyStore
	Students() StudentStore
	Avatars() AvatarStore
}

// Transactor reads outside a transaction and runs fn atomically in WithinTx.
type Transactor interface {
	Tx
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is the Postgres-backed Transactor.
type Store struct {
	db *sqlx.DB
	scope
}

type scope struct {
	faculties *FacultyRepository
	students  *StudentRepository
	avatars   *AvatarRepository
}

func newScope(db sqlx.ExtContext) scope {
	return scope{
		faculties: NewFacultyRepository(db),
		students:  NewStudentRepository(db),
		avatars:   NewAvatarRepository(db),
	}
}

func (s scope) Faculties() FacultyStore { return s.faculties }
func (s scope) Students() StudentStore  { return s.students }
func (s scope) Avatars() AvatarStore    { return s.avatars }

// NewStore constructs a Store over db.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, scope: newScope(db)}
}

// WithinTx runs fn in a database transaction, committing only when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(newScope(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports unique-constraint failures from any store.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, ErrUniqueViolation) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
