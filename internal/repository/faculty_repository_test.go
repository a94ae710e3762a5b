package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roster-api/internal/models"
)

var facultyRowColumns = []string{"id", "name", "color", "created_at", "updated_at"}

func TestFacultyRepositoryFindByIDLoadsMembersInOrder(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + facultyColumns + " FROM faculties WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(facultyRowColumns).AddRow(int64(1), "Gryffindor", "RED", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM faculty_members WHERE faculty_id = $1 ORDER BY position ASC")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow(int64(5)).AddRow(int64(2)))

	faculty, err := repo.FindByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.FacultyColorRed, faculty.Color)
	assert.Equal(t, []int64{5, 2}, faculty.StudentIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacultyRepositoryFindByIDMissing(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	mock.ExpectQuery("FROM faculties WHERE id").
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), 9)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacultyRepositoryListFiltersByNameOrColor(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + facultyColumns + " FROM faculties WHERE LOWER(name) = LOWER($1) OR color = $2 ORDER BY id ASC")).
		WithArgs("slytherin", models.FacultyColorRed).
		WillReturnRows(sqlmock.NewRows(facultyRowColumns).
			AddRow(int64(1), "Gryffindor", "RED", now, now).
			AddRow(int64(4), "Slytherin", "GREEN", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT faculty_id, student_id FROM faculty_members WHERE faculty_id IN ($1, $2) ORDER BY position ASC")).
		WithArgs(int64(1), int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"faculty_id", "student_id"}).AddRow(int64(1), int64(7)).AddRow(int64(1), int64(3)))

	faculties, err := repo.List(context.Background(), models.FacultyFilter{Name: "slytherin", Color: models.FacultyColorRed})
	require.NoError(t, err)
	require.Len(t, faculties, 2)
	assert.Equal(t, []int64{7, 3}, faculties[0].StudentIDs)
	assert.Equal(t, []int64{}, faculties[1].StudentIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacultyRepositoryExistsByName(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM faculties WHERE LOWER(name) = LOWER($1) AND id <> $2 LIMIT 1")).
		WithArgs("Ravenclaw", int64(3)).
		WillReturnError(sql.ErrNoRows)
	exists, err := repo.ExistsByName(context.Background(), "Ravenclaw", 3)
	require.NoError(t, err)
	assert.False(t, exists)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM faculties WHERE LOWER(name) = LOWER($1) LIMIT 1")).
		WithArgs("ravenclaw").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	exists, err = repo.ExistsByName(context.Background(), "ravenclaw", 0)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacultyRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	mock.ExpectQuery("INSERT INTO faculties").
		WithArgs("Hufflepuff", models.FacultyColorYellow, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	faculty := &models.Faculty{Name: "Hufflepuff", Color: models.FacultyColorYellow}
	require.NoError(t, repo.Create(context.Background(), faculty))
	assert.Equal(t, int64(2), faculty.ID)
	assert.Equal(t, []int64{}, faculty.StudentIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacultyRepositoryMembership(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewFacultyRepository(db)

	mock.ExpectExec("INSERT INTO faculty_members").
		WithArgs(int64(1), int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM faculty_members WHERE faculty_id = $1 AND student_id = $2")).
		WithArgs(int64(1), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM faculty_members").
		WithArgs(int64(1), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.AddMember(context.Background(), 1, 5))
	require.NoError(t, repo.RemoveMember(context.Background(), 1, 5))
	assert.ErrorIs(t, repo.RemoveMember(context.Background(), 1, 5), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWithinTxCommitsAndRollsBack(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM faculties").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.Faculties().Delete(context.Background(), 1)
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = store.WithinTx(context.Background(), func(tx Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
