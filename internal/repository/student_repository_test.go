package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roster-api/internal/models"
)

var studentRowColumns = []string{"id", "name", "age", "faculty_id", "avatar_id", "created_at", "updated_at"}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock, func() { db.Close() }
}

func TestStudentRepositoryListSortsWithIDTiebreak(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(studentRowColumns).
		AddRow(int64(3), "Ron", 18, int64(1), nil, now, now).
		AddRow(int64(1), "Harry", 17, int64(1), int64(9), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + studentColumns + " FROM students ORDER BY age DESC, id ASC LIMIT 2 OFFSET 2")).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	students, total, err := repo.List(context.Background(), models.StudentFilter{Page: 2, PageSize: 2, SortBy: "age", SortOrder: "desc"})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, 5, total)
	assert.Nil(t, students[0].AvatarID)
	require.NotNil(t, students[1].AvatarID)
	assert.Equal(t, int64(9), *students[1].AvatarID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListDefaults(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + studentColumns + " FROM students ORDER BY id ASC LIMIT 20 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows(studentRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	students, total, err := repo.List(context.Background(), models.StudentFilter{SortBy: "unknown"})
	require.NoError(t, err)
	assert.Empty(t, students)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListByAgeRange(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE age BETWEEN $1 AND $2")).
		WithArgs(17, 19).
		WillReturnRows(sqlmock.NewRows(studentRowColumns).AddRow(int64(2), "Hermione", 18, int64(1), nil, now, now))

	students, err := repo.ListByAgeRange(context.Background(), models.NewAgeRange(19, 17))
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "Hermione", students[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryStats(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS count, AVG(age)::float8 AS average_age FROM students")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "average_age"}).AddRow(3, 18.0))
	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	require.NotNil(t, stats.AverageAge)
	assert.InDelta(t, 18.0, *stats.AverageAge, 1e-9)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "average_age"}).AddRow(0, nil))
	stats, err = repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
	assert.Nil(t, stats.AverageAge)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("INSERT INTO students").
		WithArgs("Harry", 17, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	student := &models.Student{Name: "Harry", Age: 17, FacultyID: 1}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.Equal(t, int64(42), student.ID)
	assert.False(t, student.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("UPDATE students SET name").
		WithArgs("Harry", 18, int64(2), sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Student{ID: 7, Name: "Harry", Age: 18, FacultyID: 2})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByIDForUpdate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(studentRowColumns).AddRow(int64(4), "Luna", 16, int64(3), nil, now, now))

	student, err := repo.FindByIDForUpdate(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, "Luna", student.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryAttachAvatar(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET avatar_id = $1")).
		WithArgs(int64(11), sqlmock.AnyArg(), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AttachAvatar(context.Background(), 4, 11))
	assert.NoError(t, mock.ExpectationsWereMet())
}
