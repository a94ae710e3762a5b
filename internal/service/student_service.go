package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/repository"
	appErrors "github.com/noah-isme/roster-api/pkg/errors"
	"github.com/noah-isme/roster-api/pkg/validation"
)

// fileRemover deletes stored avatar originals.
type fileRemover interface {
	Delete(filename string) error
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	Name      string `json:"name" validate:"required"`
	Age       int    `json:"age"`
	FacultyID int64  `json:"faculty_id" validate:"required,gt=0"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	Name      string `json:"name" validate:"required"`
	Age       int    `json:"age"`
	FacultyID int64  `json:"faculty_id" validate:"required,gt=0"`
}

// StudentService handles student use-cases.
type StudentService struct {
	store      repository.Transactor
	reconciler *Reconciler
	cache      *CacheService
	files      fileRemover
	validator  *validation.Validator
	logger     *zap.Logger
}

// NewStudentService constructs the student service. cache and files may be nil.
func NewStudentService(store repository.Transactor, reconciler *Reconciler, cache *CacheService, files fileRemover, validate *validation.Validator, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reconciler == nil {
		reconciler = NewReconciler(store, logger)
	}
	return &StudentService{store: store, reconciler: reconciler, cache: cache, files: files, validator: validate, logger: logger}
}

// List returns one sorted page of students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	filter = filter.Normalize()
	students, total, err := s.store.Students().List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list students")
	}
	return students, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a student by id.
func (s *StudentService) Get(ctx context.Context, id int64) (*models.Student, error) {
	student, err := s.store.Students().FindByID(ctx, id)
	if err != nil {
		return nil, studentLookupError(err, id)
	}
	return student, nil
}

// FindByAge returns students of exactly age, or within [age, upTo] in either order when upTo is set.
func (s *StudentService) FindByAge(ctx context.Context, age int, upTo *int) ([]models.Student, error) {
	if age < 0 {
		return nil, validation.Field("age", "age must not be negative", "invalid age query")
	}
	ages := models.NewAgeRange(age, age)
	if upTo != nil {
		if *upTo < 0 {
			return nil, validation.Field("upTo", "upTo must not be negative", "invalid age query")
		}
		ages = models.NewAgeRange(age, *upTo)
	}
	students, err := s.store.Students().ListByAgeRange(ctx, ages)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to query students by age")
	}
	return students, nil
}

// Stats returns the student count and mean age, served from cache when possible.
// The snapshot is keyed by the generation read before the store is queried.
func (s *StudentService) Stats(ctx context.Context) (*models.StudentStats, bool, error) {
	generation, genErr := s.cache.Generation(ctx, cacheKeyStatsGeneration)
	key := StatsCacheKey(generation)
	if genErr == nil {
		var cached models.StudentStats
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}
	stats, err := s.store.Students().Stats(ctx)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to compute student stats")
	}
	if genErr == nil {
		_ = s.cache.Set(ctx, key, stats, 0)
	}
	return &stats, false, nil
}

// Faculty returns the faculty the student belongs to.
func (s *StudentService) Faculty(ctx context.Context, studentID int64) (*models.Faculty, error) {
	student, err := s.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	faculty, err := s.store.Faculties().FindByID(ctx, student.FacultyID)
	if err != nil {
		return nil, facultyLookupError(err, student.FacultyID)
	}
	return faculty, nil
}

// Create registers a new student and enrolls it in its faculty.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req, "invalid student payload"); err != nil {
		return nil, err
	}
	if err := checkAge(req.Age); err != nil {
		return nil, err
	}
	student := &models.Student{Name: req.Name, Age: req.Age, FacultyID: req.FacultyID}
	if err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return s.reconciler.Enroll(ctx, tx, student)
	}); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	s.logger.Info("student enrolled", zap.Int64("student_id", student.ID), zap.Int64("faculty_id", student.FacultyID))
	return student, nil
}

// Update replaces name, age and faculty, transferring membership when the faculty changes.
func (s *StudentService) Update(ctx context.Context, id int64, req UpdateStudentRequest) (*models.Student, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req, "invalid student payload"); err != nil {
		return nil, err
	}
	if err := checkAge(req.Age); err != nil {
		return nil, err
	}
	var updated *models.Student
	if err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		student, err := tx.Students().FindByIDForUpdate(ctx, id)
		if err != nil {
			return studentLookupError(err, id)
		}
		student.Name = req.Name
		student.Age = req.Age
		if err := s.reconciler.Transfer(ctx, tx, student, req.FacultyID); err != nil {
			return err
		}
		updated = student
		return nil
	}); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete withdraws the student, removing its membership and avatar.
func (s *StudentService) Delete(ctx context.Context, id int64) error {
	var orphan string
	if err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		student, err := tx.Students().FindByIDForUpdate(ctx, id)
		if err != nil {
			return studentLookupError(err, id)
		}
		orphan, err = s.reconciler.Withdraw(ctx, tx, student)
		return err
	}); err != nil {
		return err
	}
	removeFiles(s.files, s.logger, orphan)
	s.invalidate(ctx)
	s.logger.Info("student withdrawn", zap.Int64("student_id", id))
	return nil
}

func (s *StudentService) invalidate(ctx context.Context) {
	invalidateStats(ctx, s.cache)
}

// invalidateStats retires the current stats snapshot after a committed write.
// When the counter cannot be bumped every snapshot is swept instead.
func invalidateStats(ctx context.Context, cache *CacheService) {
	generation, err := cache.Bump(ctx, cacheKeyStatsGeneration)
	if err != nil {
		_ = cache.Invalidate(ctx, cacheKeyStatsSnapshots)
		return
	}
	if generation > 0 {
		_ = cache.Evict(ctx, StatsCacheKey(generation-1))
	}
}

func checkAge(age int) error {
	if age < models.MinStudentAge {
		return validation.Field("age", fmt.Sprintf("age must be at least %d", models.MinStudentAge), "invalid student payload")
	}
	return nil
}

func removeFiles(files fileRemover, logger *zap.Logger, paths ...string) {
	if files == nil {
		return
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := files.Delete(path); err != nil {
			logger.Warn("failed to remove avatar file", zap.String("path", path), zap.Error(err))
		}
	}
}
