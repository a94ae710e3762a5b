package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/roster-api/internal/repository"
	appErrors "github.com/noah-isme/roster-api/pkg/errors"
	"github.com/noah-isme/roster-api/pkg/imaging"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 13 {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

type failingFiles struct {
	avatarFiles
}

func (f failingFiles) Save(filename string, data []byte) (string, error) {
	return "", errors.New("disk full")
}

var errCommit = errors.New("commit failed")

// failingCommit runs the unit of work and then fails it as a lost commit would.
type failingCommit struct {
	repository.Transactor
}

func (f failingCommit) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return f.Transactor.WithinTx(ctx, func(tx repository.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errCommit
	})
}

func TestSetAvatarLargeImage(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Gryffindor", "RED")
	harry := r.student(t, "Harry", 17, red.ID)
	original := pngBytes(t, 4000, 3000)

	avatar, err := r.avatars.SetAvatar(ctx, harry.ID, AvatarUpload{Filename: "scar.png", MediaType: "image/png", Content: original})
	require.NoError(t, err)
	assert.Equal(t, 100, avatar.PreviewWidth)
	assert.Equal(t, 75, avatar.PreviewHeight)
	assert.Equal(t, "students/"+strconv.FormatInt(harry.ID, 10)+"/avatar.png", avatar.FilePath)
	assert.Equal(t, int64(len(original)), avatar.FileSize)

	local, err := r.avatars.GetAvatar(ctx, harry.ID, true)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(original, local.Data))
	assert.Equal(t, "image/png", local.MediaType)

	preview, err := r.avatars.GetAvatar(ctx, harry.ID, false)
	require.NoError(t, err)
	decoded, _, err := image.Decode(bytes.NewReader(preview.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 75), decoded.Bounds())
	assert.Equal(t, int64(len(preview.Data)), preview.Length)

	student, err := r.students.Get(ctx, harry.ID)
	require.NoError(t, err)
	require.NotNil(t, student.AvatarID)
	assert.Equal(t, avatar.ID, *student.AvatarID)
}

func TestSetAvatarTwiceKeepsOneRowAndOneFile(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Gryffindor", "RED")
	ron := r.student(t, "Ron", 17, red.ID)

	first, err := r.avatars.SetAvatar(ctx, ron.ID, AvatarUpload{Filename: "ron.jpg", Content: jpegBytes(t, 300, 600)})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", first.PreviewMediaType)
	assert.Equal(t, 50, first.PreviewWidth)

	second, err := r.avatars.SetAvatar(ctx, ron.ID, AvatarUpload{Filename: "ron.png", Content: pngBytes(t, 40, 20)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 40, second.PreviewWidth)
	assert.Equal(t, 20, second.PreviewHeight)

	entries, err := os.ReadDir(filepath.Dir(r.files.Path(second.FilePath)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "avatar.png", entries[0].Name())

	third, err := r.avatars.SetAvatar(ctx, ron.ID, AvatarUpload{Filename: "again.png", Content: pngBytes(t, 10, 10)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	entries, err = os.ReadDir(filepath.Dir(r.files.Path(third.FilePath)))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSetAvatarRejectsUndecodableWithoutWriting(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Gryffindor", "RED")
	neville := r.student(t, "Neville", 17, red.ID)

	_, err := r.avatars.SetAvatar(ctx, neville.ID, AvatarUpload{Filename: "notes.txt", Content: []byte("this is not an image")})
	appErr := requireCode(t, err, appErrors.ErrProcessing.Code)
	assert.Equal(t, 422, appErr.Status)
	assert.ErrorIs(t, err, imaging.ErrUndecodable)

	_, err = os.Stat(r.files.Path("students/" + strconv.FormatInt(neville.ID, 10)))
	assert.True(t, os.IsNotExist(err))

	_, err = r.avatars.GetAvatar(ctx, neville.ID, false)
	requireCode(t, err, appErrors.ErrAvatarNotFound.Code)

	_, err = r.avatars.SetAvatar(ctx, neville.ID, AvatarUpload{})
	appErr = requireCode(t, err, appErrors.ErrValidation.Code)
	assert.Contains(t, appErr.Details, "file")
}

func TestSetAvatarUnknownStudent(t *testing.T) {
	r := newTestRoster(t)
	_, err := r.avatars.SetAvatar(context.Background(), 41, AvatarUpload{Content: pngBytes(t, 10, 10)})
	requireCode(t, err, appErrors.ErrStudentNotFound.Code)

	_, err = r.avatars.GetAvatar(context.Background(), 41, true)
	requireCode(t, err, appErrors.ErrStudentNotFound.Code)
}

func TestSetAvatarStorageFailureLeavesDatabaseUntouched(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Gryffindor", "RED")
	ginny := r.student(t, "Ginny", 16, red.ID)

	svc := NewAvatarService(r.store, failingFiles{avatarFiles: r.files}, nil, NewMetricsService(), AvatarConfig{}, nil)
	_, err := svc.SetAvatar(ctx, ginny.ID, AvatarUpload{Filename: "g.png", Content: pngBytes(t, 10, 10)})
	requireCode(t, err, appErrors.ErrStorage.Code)

	_, err = r.avatars.GetAvatar(ctx, ginny.ID, false)
	requireCode(t, err, appErrors.ErrAvatarNotFound.Code)
	student, err := r.students.Get(ctx, ginny.ID)
	require.NoError(t, err)
	assert.Nil(t, student.AvatarID)
}

func TestGetAvatarOriginalMissingFile(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Gryffindor", "RED")
	seamus := r.student(t, "Seamus", 17, red.ID)

	avatar, err := r.avatars.SetAvatar(ctx, seamus.ID, AvatarUpload{Filename: "s.png", Content: pngBytes(t, 10, 10)})
	require.NoError(t, err)
	require.NoError(t, os.Remove(r.files.Path(avatar.FilePath)))

	_, err = r.avatars.GetAvatar(ctx, seamus.ID, true)
	requireCode(t, err, appErrors.ErrStorage.Code)

	preview, err := r.avatars.GetAvatar(ctx, seamus.ID, false)
	require.NoError(t, err)
	assert.NotEmpty(t, preview.Data)
}

func TestSetAvatarCommitFailureRemovesNewFile(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Ravenclaw", "BLUE")
	luna := r.student(t, "Luna", 16, red.ID)

	svc := NewAvatarService(failingCommit{Transactor: r.store}, r.files, nil, NewMetricsService(), AvatarConfig{}, nil)
	_, err := svc.SetAvatar(ctx, luna.ID, AvatarUpload{Filename: "luna.png", Content: pngBytes(t, 10, 10)})
	assert.ErrorIs(t, err, errCommit)

	_, err = os.Stat(r.files.Path("students/" + strconv.FormatInt(luna.ID, 10) + "/avatar.png"))
	assert.True(t, os.IsNotExist(err))
	_, err = r.avatars.GetAvatar(ctx, luna.ID, true)
	requireCode(t, err, appErrors.ErrAvatarNotFound.Code)
}

func TestSetAvatarCommitFailureKeepsExistingFile(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Ravenclaw", "BLUE")
	luna := r.student(t, "Luna", 16, red.ID)

	first, err := r.avatars.SetAvatar(ctx, luna.ID, AvatarUpload{Filename: "luna.png", Content: pngBytes(t, 40, 20)})
	require.NoError(t, err)

	svc := NewAvatarService(failingCommit{Transactor: r.store}, r.files, nil, nil, AvatarConfig{}, nil)
	_, err = svc.SetAvatar(ctx, luna.ID, AvatarUpload{Filename: "again.png", Content: pngBytes(t, 10, 10)})
	assert.ErrorIs(t, err, errCommit)

	_, err = os.Stat(r.files.Path(first.FilePath))
	require.NoError(t, err)
	stored, err := r.store.Avatars().FindByStudentID(ctx, luna.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, 40, stored.PreviewWidth)
}

func TestSetAvatarConcurrentUploadsKeepOneRowAndOneFile(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Gryffindor", "RED")
	harry := r.student(t, "Harry", 17, red.ID)

	uploads := []AvatarUpload{
		{Filename: "a.png", Content: pngBytes(t, 30, 10)},
		{Filename: "b.jpg", Content: jpegBytes(t, 20, 40)},
		{Filename: "c.png", Content: pngBytes(t, 12, 12)},
	}
	errs := make(chan error, 9)
	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		upload := uploads[i%len(uploads)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.avatars.SetAvatar(ctx, harry.ID, upload)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := r.store.Avatars().FindByStudentID(ctx, harry.ID)
	require.NoError(t, err)
	student, err := r.students.Get(ctx, harry.ID)
	require.NoError(t, err)
	require.NotNil(t, student.AvatarID)
	assert.Equal(t, stored.ID, *student.AvatarID)

	entries, err := os.ReadDir(r.files.Path("students/" + strconv.FormatInt(harry.ID, 10)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, path.Base(stored.FilePath), entries[0].Name())

	local, err := r.avatars.GetAvatar(ctx, harry.ID, true)
	require.NoError(t, err)
	assert.Equal(t, stored.FileSize, local.Length)
}

func TestSetAvatarMislabeledUploadKeepsSniffedType(t *testing.T) {
	r := newTestRoster(t)
	ctx := context.Background()
	red := r.faculty(t, "Gryffindor", "RED")
	dean := r.student(t, "Dean", 17, red.ID)

	avatar, err := r.avatars.SetAvatar(ctx, dean.ID, AvatarUpload{Filename: "drawing.svg", MediaType: "image/svg+xml", Content: pngBytes(t, 10, 10)})
	require.NoError(t, err)
	assert.Equal(t, "image/png", avatar.MediaType)

	local, err := r.avatars.GetAvatar(ctx, dean.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "image/png", local.MediaType)
}

func TestSetAvatarRejectsOversizedUpload(t *testing.T) {
	r := newTestRoster(t)
	svc := NewAvatarService(r.store, r.files, imaging.NewCodec(100), nil, AvatarConfig{MaxBytes: 16}, nil)
	_, err := svc.SetAvatar(context.Background(), 1, AvatarUpload{Content: make([]byte, 17)})
	requireCode(t, err, appErrors.ErrValidation.Code)
}

func TestAvatarPath(t *testing.T) {
	assert.Equal(t, "students/3/avatar.jpeg", avatarPath(3, "Photo.JPEG", ".jpg"))
	assert.Equal(t, "students/3/avatar.png", avatarPath(3, "", ".png"))
	assert.Equal(t, "students/3/avatar.png", avatarPath(3, "noext", ".png"))
}

func TestAvatarMediaTypePrefersSniffedImage(t *testing.T) {
	assert.Equal(t, "image/png", avatarMediaType("image/png", "image/svg+xml"))
	assert.Equal(t, "image/jpeg", avatarMediaType("image/jpeg", ""))
	assert.Equal(t, "image/png", avatarMediaType("application/octet-stream", "image/PNG; charset=binary"))
	assert.Equal(t, "application/octet-stream", avatarMediaType("application/octet-stream", "text/plain"))
}
