package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/repository"
	appErrors "github.com/noah-isme/roster-api/pkg/errors"
	"github.com/noah-isme/roster-api/pkg/export"
	"github.com/noah-isme/roster-api/pkg/validation"
)

// FacultyRequest holds payload for creating or replacing a faculty.
type FacultyRequest struct {
	Name  string `json:"name" validate:"required"`
	Color string `json:"color" validate:"required"`
}

// RosterDocument is a rendered faculty roster.
type RosterDocument struct {
	Filename    string
	ContentType string
	Data        []byte
}

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
}

// FacultyService handles faculty use-cases.
type FacultyService struct {
	store      repository.Transactor
	reconciler *Reconciler
	cache      *CacheService
	files      fileRemover
	validator  *validation.Validator
	csv        tableRenderer
	pdf        tableRenderer
	logger     *zap.Logger
}

// NewFacultyService constructs the faculty service. cache and files may be nil.
func NewFacultyService(store repository.Transactor, reconciler *Reconciler, cache *CacheService, files fileRemover, validate *validation.Validator, logger *zap.Logger) *FacultyService {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reconciler == nil {
		reconciler = NewReconciler(store, logger)
	}
	return &FacultyService{
		store:      store,
		reconciler: reconciler,
		cache:      cache,
		files:      files,
		validator:  validate,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		logger:     logger,
	}
}

// List returns faculties matching the name or colour filter.
func (s *FacultyService) List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, error) {
	faculties, err := s.store.Faculties().List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list faculties")
	}
	return faculties, nil
}

// Get returns a faculty with its students in enrollment order.
func (s *FacultyService) Get(ctx context.Context, id int64) (*models.Faculty, error) {
	faculty, err := s.store.Faculties().FindByID(ctx, id)
	if err != nil {
		return nil, facultyLookupError(err, id)
	}
	return faculty, nil
}

// Students returns the full student records of a faculty in enrollment order.
func (s *FacultyService) Students(ctx context.Context, id int64) ([]models.Student, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	students, err := s.store.Students().ListByFaculty(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list faculty students")
	}
	return students, nil
}

// Create registers a faculty with a unique name.
func (s *FacultyService) Create(ctx context.Context, req FacultyRequest) (*models.Faculty, error) {
	faculty, err := s.parse(req)
	if err != nil {
		return nil, err
	}
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := s.ensureUniqueName(ctx, tx, faculty.Name, 0); err != nil {
			return err
		}
		return s.mapWriteError(tx.Faculties().Create(ctx, faculty), 0, "failed to create faculty")
	})
	if err != nil {
		return nil, err
	}
	invalidateStats(ctx, s.cache)
	s.logger.Info("faculty created", zap.Int64("faculty_id", faculty.ID), zap.String("name", faculty.Name))
	return faculty, nil
}

// Update replaces a faculty's name and colour.
func (s *FacultyService) Update(ctx context.Context, id int64, req FacultyRequest) (*models.Faculty, error) {
	changes, err := s.parse(req)
	if err != nil {
		return nil, err
	}
	var updated *models.Faculty
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		faculty, err := tx.Faculties().FindByIDForUpdate(ctx, id)
		if err != nil {
			return facultyLookupError(err, id)
		}
		if err := s.ensureUniqueName(ctx, tx, changes.Name, id); err != nil {
			return err
		}
		faculty.Name = changes.Name
		faculty.Color = changes.Color
		if err := s.mapWriteError(tx.Faculties().Update(ctx, faculty), id, "failed to update faculty"); err != nil {
			return err
		}
		updated = faculty
		return nil
	})
	if err != nil {
		return nil, err
	}
	invalidateStats(ctx, s.cache)
	return updated, nil
}

// Delete removes a faculty. A faculty with students is rejected unless cascade is set,
// in which case every student is withdrawn in the same unit of work.
func (s *FacultyService) Delete(ctx context.Context, id int64, cascade bool) error {
	var orphans []string
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		faculty, err := tx.Faculties().FindByIDForUpdate(ctx, id)
		if err != nil {
			return facultyLookupError(err, id)
		}
		if len(faculty.StudentIDs) > 0 && !cascade {
			notEmpty := appErrors.WithDetail(appErrors.ErrFacultyNotEmpty, "faculty_id", strconv.FormatInt(id, 10))
			return appErrors.WithDetail(notEmpty, "students", strconv.Itoa(len(faculty.StudentIDs)))
		}
		for _, studentID := range faculty.StudentIDs {
			student, err := tx.Students().FindByIDForUpdate(ctx, studentID)
			if err != nil {
				return studentLookupError(err, studentID)
			}
			orphan, err := s.reconciler.Withdraw(ctx, tx, student)
			if err != nil {
				return err
			}
			orphans = append(orphans, orphan)
		}
		if err := tx.Faculties().Delete(ctx, id); err != nil {
			return facultyLookupError(err, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	removeFiles(s.files, s.logger, orphans...)
	invalidateStats(ctx, s.cache)
	s.logger.Info("faculty deleted", zap.Int64("faculty_id", id), zap.Int("withdrawn", len(orphans)))
	return nil
}

// Roster renders the faculty's students as CSV or PDF.
func (s *FacultyService) Roster(ctx context.Context, id int64, format export.Format) (*RosterDocument, error) {
	faculty, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	students, err := s.store.Students().ListByFaculty(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list faculty students")
	}

	table := export.Table{
		Title:   fmt.Sprintf("%s (%s)", faculty.Name, faculty.Color),
		Columns: []string{"id", "name", "age", "has_avatar"},
	}
	for _, student := range students {
		table.AddRow(
			strconv.FormatInt(student.ID, 10),
			student.Name,
			strconv.Itoa(student.Age),
			strconv.FormatBool(student.AvatarID != nil),
		)
	}

	renderer := s.csv
	if format == export.FormatPDF {
		renderer = s.pdf
	} else {
		format = export.FormatCSV
	}
	data, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render roster")
	}
	return &RosterDocument{
		Filename:    fmt.Sprintf("faculty-%d-roster.%s", faculty.ID, format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func (s *FacultyService) parse(req FacultyRequest) (*models.Faculty, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req, "invalid faculty payload"); err != nil {
		return nil, err
	}
	color, ok := models.ParseFacultyColor(req.Color)
	if !ok {
		return nil, validation.Field("color", "color must be one of RED GREEN BLUE YELLOW", "invalid faculty payload")
	}
	return &models.Faculty{Name: req.Name, Color: color, StudentIDs: []int64{}}, nil
}

func (s *FacultyService) ensureUniqueName(ctx context.Context, tx repository.Tx, name string, excludeID int64) error {
	exists, err := tx.Faculties().ExistsByName(ctx, name, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to validate faculty name")
	}
	if exists {
		return nameTaken()
	}
	return nil
}

func (s *FacultyService) mapWriteError(err error, id int64, message string) error {
	switch {
	case err == nil:
		return nil
	case repository.IsUniqueViolation(err):
		return nameTaken()
	case errors.Is(err, sql.ErrNoRows):
		return facultyNotFound(id)
	default:
		return appErrors.Internal(err, message)
	}
}

func nameTaken() *appErrors.Error {
	return appErrors.WithDetail(appErrors.Clone(appErrors.ErrConflict, "faculty name already used"), "field", "name")
}
