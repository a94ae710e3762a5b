// Package memory provides a process-local Transactor used for development and tests.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/roster-api/internal/models"
	"github.com/noah-isme/roster-api/internal/repository"
)

type membership struct {
	position  int64
	facultyID int64
	studentID int64
}

type state struct {
	faculties map[int64]models.Faculty
	students  map[int64]models.Student
	avatars   map[int64]models.Avatar // keyed by student id
	members   []membership

	nextFaculty  int64
	nextStudent  int64
	nextAvatar   int64
	nextPosition int64
}

func newState() *state {
	return &state{
		faculties: map[int64]models.Faculty{},
		students:  map[int64]models.Student{},
		avatars:   map[int64]models.Avatar{},
	}
}

func (s *state) clone() *state {
	c := *s
	c.faculties = make(map[int64]models.Faculty, len(s.faculties))
	for k, v := range s.faculties {
		c.faculties[k] = v
	}
	c.students = make(map[int64]models.Student, len(s.students))
	for k, v := range s.students {
		c.students[k] = v
	}
	c.avatars = make(map[int64]models.Avatar, len(s.avatars))
	for k, v := range s.avatars {
		c.avatars[k] = v
	}
	c.members = append([]membership(nil), s.members...)
	return &c
}

// Store keeps all rows in memory. Transactions are serialised and applied on commit.
type Store struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *state
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// WithinTx runs fn against a private copy and publishes it only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	if err := fn(&view{state: working}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()
	return nil
}

// Faculties returns a non-transactional faculty store.
func (s *Store) Faculties() repository.FacultyStore { return &faculties{s.direct()} }

// Students returns a non-transactional student store.
func (s *Store) Students() repository.StudentStore { return &students{s.direct()} }

// Avatars returns a non-transactional avatar store.
func (s *Store) Avatars() repository.AvatarStore { return &avatars{s.direct()} }

// direct applies each call as its own single-statement transaction.
func (s *Store) direct() access {
	return func(write bool, fn func(st *state) error) error {
		if !write {
			s.mu.RLock()
			defer s.mu.RUnlock()
			return fn(s.state)
		}
		s.txMu.Lock()
		defer s.txMu.Unlock()
		working := s.state.clone()
		if err := fn(working); err != nil {
			return err
		}
		s.mu.Lock()
		s.state = working
		s.mu.Unlock()
		return nil
	}
}

type access func(write bool, fn func(st *state) error) error

type view struct {
	state *state
}

func (v *view) access() access {
	return func(_ bool, fn func(st *state) error) error { return fn(v.state) }
}

func (v *view) Faculties() repository.FacultyStore { return &faculties{v.access()} }
func (v *view) Students() repository.StudentStore  { return &students{v.access()} }
func (v *view) Avatars() repository.AvatarStore    { return &avatars{v.access()} }

type faculties struct{ do access }

func (f *faculties) withMembers(st *state, faculty models.Faculty) models.Faculty {
	faculty.StudentIDs = st.memberIDs(faculty.ID)
	return faculty
}

func (f *faculties) FindByID(ctx context.Context, id int64) (*models.Faculty, error) {
	var out models.Faculty
	err := f.do(false, func(st *state) error {
		faculty, ok := st.faculties[id]
		if !ok {
			return sql.ErrNoRows
		}
		out = f.withMembers(st, faculty)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *faculties) FindByIDForUpdate(ctx context.Context, id int64) (*models.Faculty, error) {
	return f.FindByID(ctx, id)
}

func (f *faculties) ExistsByName(ctx context.Context, name string, excludeID int64) (bool, error) {
	var exists bool
	err := f.do(false, func(st *state) error {
		exists = st.facultyNameTaken(name, excludeID)
		return nil
	})
	return exists, err
}

func (f *faculties) List(ctx context.Context, filter models.FacultyFilter) ([]models.Faculty, error) {
	out := []models.Faculty{}
	name := strings.TrimSpace(filter.Name)
	err := f.do(false, func(st *state) error {
		for _, faculty := range st.faculties {
			if name != "" || filter.Color != "" {
				nameMatch := name != "" && strings.EqualFold(faculty.Name, name)
				colorMatch := filter.Color != "" && faculty.Color == filter.Color
				if !nameMatch && !colorMatch {
					continue
				}
			}
			out = append(out, f.withMembers(st, faculty))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (f *faculties) Create(ctx context.Context, faculty *models.Faculty) error {
	return f.do(true, func(st *state) error {
		if st.facultyNameTaken(faculty.Name, 0) {
			return repository.ErrUniqueViolation
		}
		st.nextFaculty++
		now := time.Now().UTC()
		faculty.ID = st.nextFaculty
		faculty.CreatedAt = now
		faculty.UpdatedAt = now
		faculty.StudentIDs = []int64{}
		stored := *faculty
		stored.StudentIDs = nil
		st.faculties[faculty.ID] = stored
		return nil
	})
}

func (f *faculties) Update(ctx context.Context, faculty *models.Faculty) error {
	return f.do(true, func(st *state) error {
		existing, ok := st.faculties[faculty.ID]
		if !ok {
			return sql.ErrNoRows
		}
		if st.facultyNameTaken(faculty.Name, faculty.ID) {
			return repository.ErrUniqueViolation
		}
		faculty.UpdatedAt = time.Now().UTC()
		existing.Name = faculty.Name
		existing.Color = faculty.Color
		existing.UpdatedAt = faculty.UpdatedAt
		st.faculties[faculty.ID] = existing
		return nil
	})
}

func (f *faculties) Delete(ctx context.Context, id int64) error {
	return f.do(true, func(st *state) error {
		if _, ok := st.faculties[id]; !ok {
			return sql.ErrNoRows
		}
		delete(st.faculties, id)
		kept := st.members[:0]
		for _, m := range st.members {
			if m.facultyID != id {
				kept = append(kept, m)
			}
		}
		st.members = kept
		return nil
	})
}

func (f *faculties) MemberIDs(ctx context.Context, facultyID int64) ([]int64, error) {
	var ids []int64
	err := f.do(false, func(st *state) error {
		ids = st.memberIDs(facultyID)
		return nil
	})
	return ids, err
}

func (f *faculties) AddMember(ctx context.Context, facultyID, studentID int64) error {
	return f.do(true, func(st *state) error {
		if _, ok := st.faculties[facultyID]; !ok {
			return sql.ErrNoRows
		}
		if _, ok := st.students[studentID]; !ok {
			return sql.ErrNoRows
		}
		for _, m := range st.members {
			if m.studentID == studentID {
				return repository.ErrUniqueViolation
			}
		}
		st.nextPosition++
		st.members = append(st.members, membership{position: st.nextPosition, facultyID: facultyID, studentID: studentID})
		return nil
	})
}

func (f *faculties) RemoveMember(ctx context.Context, facultyID, studentID int64) error {
	return f.do(true, func(st *state) error {
		for i, m := range st.members {
			if m.facultyID == facultyID && m.studentID == studentID {
				st.members = append(st.members[:i], st.members[i+1:]...)
				return nil
			}
		}
		return sql.ErrNoRows
	})
}

type students struct{ do access }

func (s *students) FindByID(ctx context.Context, id int64) (*models.Student, error) {
	var out models.Student
	err := s.do(false, func(st *state) error {
		student, ok := st.students[id]
		if !ok {
			return sql.ErrNoRows
		}
		out = student
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *students) FindByIDForUpdate(ctx context.Context, id int64) (*models.Student, error) {
	return s.FindByID(ctx, id)
}

func (s *students) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	filter = filter.Normalize()
	var all []models.Student
	if err := s.do(false, func(st *state) error {
		all = st.studentList()
		return nil
	}); err != nil {
		return nil, 0, err
	}

	less := func(a, b models.Student) int {
		switch filter.SortBy {
		case models.StudentSortName:
			return strings.Compare(a.Name, b.Name)
		case models.StudentSortAge:
			return a.Age - b.Age
		default:
			return compareIDs(a.ID, b.ID)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		c := less(all[i], all[j])
		if filter.SortOrder == models.SortDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		if filter.SortBy == models.StudentSortID {
			return false
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	start := filter.Offset()
	if start < 0 || start > total {
		start = total
	}
	end := start + filter.PageSize
	if end < start || end > total {
		end = total
	}
	page := make([]models.Student, end-start)
	copy(page, all[start:end])
	return page, total, nil
}

func (s *students) ListByAgeRange(ctx context.Context, ages models.AgeRange) ([]models.Student, error) {
	out := []models.Student{}
	err := s.do(false, func(st *state) error {
		for _, student := range st.studentList() {
			if ages.Contains(student.Age) {
				out = append(out, student)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Age < out[j].Age })
	return out, err
}

func (s *students) ListByFaculty(ctx context.Context, facultyID int64) ([]models.Student, error) {
	out := []models.Student{}
	err := s.do(false, func(st *state) error {
		for _, id := range st.memberIDs(facultyID) {
			if student, ok := st.students[id]; ok {
				out = append(out, student)
			}
		}
		return nil
	})
	return out, err
}

func (s *students) Stats(ctx context.Context) (models.StudentStats, error) {
	var stats models.StudentStats
	err := s.do(false, func(st *state) error {
		stats.Count = len(st.students)
		if stats.Count == 0 {
			return nil
		}
		sum := 0
		for _, student := range st.students {
			sum += student.Age
		}
		avg := float64(sum) / float64(stats.Count)
		stats.AverageAge = &avg
		return nil
	})
	return stats, err
}

func (s *students) Create(ctx context.Context, student *models.Student) error {
	return s.do(true, func(st *state) error {
		if _, ok := st.faculties[student.FacultyID]; !ok {
			return sql.ErrNoRows
		}
		st.nextStudent++
		now := time.Now().UTC()
		student.ID = st.nextStudent
		student.CreatedAt = now
		student.UpdatedAt = now
		st.students[student.ID] = *student
		return nil
	})
}

func (s *students) Update(ctx context.Context, student *models.Student) error {
	return s.do(true, func(st *state) error {
		existing, ok := st.students[student.ID]
		if !ok {
			return sql.ErrNoRows
		}
		if _, ok := st.faculties[student.FacultyID]; !ok {
			return sql.ErrNoRows
		}
		student.UpdatedAt = time.Now().UTC()
		existing.Name = student.Name
		existing.Age = student.Age
		existing.FacultyID = student.FacultyID
		existing.UpdatedAt = student.UpdatedAt
		st.students[student.ID] = existing
		return nil
	})
}

func (s *students) Delete(ctx context.Context, id int64) error {
	return s.do(true, func(st *state) error {
		if _, ok := st.students[id]; !ok {
			return sql.ErrNoRows
		}
		delete(st.students, id)
		delete(st.avatars, id)
		kept := st.members[:0]
		for _, m := range st.members {
			if m.studentID != id {
				kept = append(kept, m)
			}
		}
		st.members = kept
		return nil
	})
}

func (s *students) AttachAvatar(ctx context.Context, studentID, avatarID int64) error {
	return s.do(true, func(st *state) error {
		student, ok := st.students[studentID]
		if !ok {
			return sql.ErrNoRows
		}
		id := avatarID
		student.AvatarID = &id
		student.UpdatedAt = time.Now().UTC()
		st.students[studentID] = student
		return nil
	})
}

type avatars struct{ do access }

func (a *avatars) FindByStudentID(ctx context.Context, studentID int64) (*models.Avatar, error) {
	var out models.Avatar
	err := a.do(false, func(st *state) error {
		avatar, ok := st.avatars[studentID]
		if !ok {
			return sql.ErrNoRows
		}
		out = avatar
		out.Data = append([]byte(nil), avatar.Data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *avatars) Upsert(ctx context.Context, avatar *models.Avatar) error {
	return a.do(true, func(st *state) error {
		if _, ok := st.students[avatar.StudentID]; !ok {
			return sql.ErrNoRows
		}
		now := time.Now().UTC()
		if existing, ok := st.avatars[avatar.StudentID]; ok {
			avatar.ID = existing.ID
			avatar.CreatedAt = existing.CreatedAt
		} else {
			st.nextAvatar++
			avatar.ID = st.nextAvatar
			avatar.CreatedAt = now
		}
		avatar.UpdatedAt = now
		stored := *avatar
		stored.Data = append([]byte(nil), avatar.Data...)
		st.avatars[avatar.StudentID] = stored
		return nil
	})
}

func (a *avatars) DeleteByStudentID(ctx context.Context, studentID int64) error {
	return a.do(true, func(st *state) error {
		delete(st.avatars, studentID)
		return nil
	})
}

func (st *state) memberIDs(facultyID int64) []int64 {
	ids := []int64{}
	for _, m := range st.members {
		if m.facultyID == facultyID {
			ids = append(ids, m.studentID)
		}
	}
	return ids
}

func (st *state) facultyNameTaken(name string, excludeID int64) bool {
	for id, faculty := range st.faculties {
		if id != excludeID && strings.EqualFold(faculty.Name, name) {
			return true
		}
	}
	return false
}

func (st *state) studentList() []models.Student {
	out := make([]models.Student, 0, len(st.students))
	for _, student := range st.students {
		out = append(out, student)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func compareIDs(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
