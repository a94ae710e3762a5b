package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roster-api/internal/models"
	appErrors "github.com/noah-isme/roster-api/pkg/errors"
	"github.com/noah-isme/roster-api/pkg/export"
)

func TestFacultyServiceCreateRejectsDuplicatesAndBadColors(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	r.faculty(t, "Gryffindor", "RED")

	_, err := r.faculties.Create(ctx, FacultyRequest{Name: " gryffindor ", Color: "BLUE"})
	appErr := requireCode(t, err, appErrors.ErrConflict.Code)
	assert.Equal(t, "name", appErr.Details["field"])

	_, err = r.faculties.Create(ctx, FacultyRequest{Name: "Durmstrang", Color: "PURPLE"})
	appErr = requireCode(t, err, appErrors.ErrValidation.Code)
	assert.Contains(t, appErr.Details, "color")

	_, err = r.faculties.Create(ctx, FacultyRequest{Color: "RED"})
	requireCode(t, err, appErrors.ErrValidation.Code)
}

func TestFacultyServiceUpdate(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Gryffindor", "RED")
	r.faculty(t, "Slytherin", "GREEN")

	updated, err := r.faculties.Update(ctx, red.ID, FacultyRequest{Name: "GRYFFINDOR", Color: "yellow"})
	require.NoError(t, err)
	assert.Equal(t, "GRYFFINDOR", updated.Name)
	assert.Equal(t, models.FacultyColorYellow, updated.Color)

	_, err = r.faculties.Update(ctx, red.ID, FacultyRequest{Name: "slytherin", Color: "RED"})
	requireCode(t, err, appErrors.ErrConflict.Code)

	_, err = r.faculties.Update(ctx, 77, FacultyRequest{Name: "Beauxbatons", Color: "BLUE"})
	requireCode(t, err, appErrors.ErrFacultyNotFound.Code)
}

func TestFacultyServiceListFilter(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	r.faculty(t, "Gryffindor", "RED")
	r.faculty(t, "Slytherin", "GREEN")
	r.faculty(t, "Ravenclaw", "BLUE")

	all, err := r.faculties.List(ctx, models.FacultyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := r.faculties.List(ctx, models.FacultyFilter{Name: "RAVENCLAW", Color: models.FacultyColorGreen})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "Slytherin", some[0].Name)
	assert.Equal(t, "Ravenclaw", some[1].Name)
}

func TestFacultyDeletePolicy(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	gryffindor := r.faculty(t, "Gryffindor", "RED")
	harry := r.student(t, "Harry", 17, gryffindor.ID)

	faculty, err := r.students.Faculty(ctx, harry.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gryffindor", faculty.Name)
	assert.Equal(t, []int64{harry.ID}, faculty.StudentIDs)

	err = r.faculties.Delete(ctx, gryffindor.ID, false)
	appErr := requireCode(t, err, appErrors.ErrFacultyNotEmpty.Code)
	assert.Equal(t, 409, appErr.Status)
	_, err = r.students.Get(ctx, harry.ID)
	require.NoError(t, err)

	_, err = r.avatars.SetAvatar(ctx, harry.ID, AvatarUpload{Filename: "harry.png", Content: pngBytes(t, 20, 10)})
	require.NoError(t, err)

	require.NoError(t, r.faculties.Delete(ctx, gryffindor.ID, true))
	_, err = r.students.Get(ctx, harry.ID)
	requireCode(t, err, appErrors.ErrStudentNotFound.Code)
	_, err = r.faculties.Get(ctx, gryffindor.ID)
	requireCode(t, err, appErrors.ErrFacultyNotFound.Code)
	exists, err := r.files.Exists(avatarPath(harry.ID, "harry.png", ""))
	require.NoError(t, err)
	assert.False(t, exists)
	r.assertConsistent(t)

	requireCode(t, r.faculties.Delete(ctx, gryffindor.ID, true), appErrors.ErrFacultyNotFound.Code)

	empty := r.faculty(t, "Hufflepuff", "YELLOW")
	require.NoError(t, r.faculties.Delete(ctx, empty.ID, false))
}

func TestFacultyServiceStudentsAndRoster(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	blue := r.faculty(t, "Ravenclaw", "BLUE")
	luna := r.student(t, "Luna", 16, blue.ID)
	cho := r.student(t, "Cho", 17, blue.ID)

	students, err := r.faculties.Students(ctx, blue.ID)
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, luna.ID, students[0].ID)
	assert.Equal(t, cho.ID, students[1].ID)

	_, err = r.faculties.Students(ctx, 404)
	requireCode(t, err, appErrors.ErrFacultyNotFound.Code)

	doc, err := r.faculties.Roster(ctx, blue.ID, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", doc.ContentType)
	assert.Contains(t, string(doc.Data), "id,name,age,has_avatar\n")
	assert.Contains(t, string(doc.Data), ",Luna,16,false\n")

	doc, err = r.faculties.Roster(ctx, blue.ID, export.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.True(t, bytes.HasPrefix(doc.Data, []byte("%PDF-")))
}
