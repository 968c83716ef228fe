// Package repotest provides in-memory repositories and object storage for
// service and handler tests.
package repotest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/repository"
)

// ErrObjectMissing is returned by ObjectStore.Get for unknown keys
var ErrObjectMissing = errors.New("object not found")

// Fixture bundles the in-memory repositories behind a repository.Repositories
type Fixture struct {
	Repos      *repository.Repositories
	Users      *Users
	Tokens     *Tokens
	Complaints *Complaints
	Files      *Files
	Catalog    *Catalog
}

// New returns empty repositories over a small seeded catalog
func New() *Fixture {
	f := &Fixture{
		Users:      &Users{rows: map[int64]domain.User{}},
		Tokens:     &Tokens{rows: map[tokenKey]domain.RefreshToken{}},
		Complaints: &Complaints{rows: map[int64]domain.Complaint{}},
		Files:      &Files{},
		Catalog:    SeededCatalog(),
	}
	f.Repos = &repository.Repositories{
		User:       f.Users,
		Token:      f.Tokens,
		Complaint:  f.Complaints,
		Category:   Categories{f.Catalog},
		Department: Departments{f.Catalog},
		File:       f.Files,
	}
	return f
}

// Users is an in-memory UserRepository with the subject and email unique indexes
type Users struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.User

	// CreateErr is returned once by the next Create
	CreateErr error
}

func (r *Users) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		err := r.CreateErr
		r.CreateErr = nil
		return err
	}
	for _, existing := range r.rows {
		if existing.Subject == u.Subject || existing.Email == u.Email {
			return repository.ErrDuplicateUser
		}
	}
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
	r.rows[u.ID] = *u
	return nil
}

func (r *Users) find(match func(domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.rows {
		if match(u) && u.DeletedAt == nil {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Users) GetBySubject(_ context.Context, subject string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Subject == subject })
}

func (r *Users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email })
}

func (r *Users) GetByID(_ context.Context, id int64) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ID == id })
}

// Count is the number of provisioned users
func (r *Users) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type tokenKey struct {
	userID int64
	device string
}

// Tokens is an in-memory TokenRepository keyed like the (user_id, device_info) index
type Tokens struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[tokenKey]domain.RefreshToken
	replaces int

	// Fail makes every call return this error
	Fail error
}

func (r *Tokens) Replace(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.replaces++
	r.nextID++
	t.ID = r.nextID
	t.CreatedAt, t.UpdatedAt = time.Now(), time.Now()
	r.rows[tokenKey{t.UserID, t.DeviceInfo}] = *t
	return nil
}

func (r *Tokens) GetActive(_ context.Context, userID int64, device string, now time.Time) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	row, ok := r.rows[tokenKey{userID, device}]
	if !ok || !row.ExpiresAt.After(now) {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (r *Tokens) Delete(_ context.Context, userID int64, device string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	delete(r.rows, tokenKey{userID, device})
	return nil
}

func (r *Tokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return 0, r.Fail
	}
	var n int64
	for k, row := range r.rows {
		if !row.ExpiresAt.After(now) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

// Row returns the stored row for a device
func (r *Tokens) Row(userID int64, device string) (domain.RefreshToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[tokenKey{userID, device}]
	return row, ok
}

// Put stores a row as is, bypassing Replace bookkeeping
func (r *Tokens) Put(row domain.RefreshToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[tokenKey{row.UserID, row.DeviceInfo}] = row
}

// Len is the number of stored rows
func (r *Tokens) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Replaces counts successful Replace calls
func (r *Tokens) Replaces() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replaces
}

// Complaints is an in-memory ComplaintRepository
type Complaints struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Complaint
}

func (r *Complaints) Create(_ context.Context, c *domain.Complaint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	// ids order creation deterministically within one test
	c.CreatedAt = time.Now().Add(time.Duration(r.nextID) * time.Millisecond)
	c.UpdatedAt = c.CreatedAt
	row := *c
	row.Files = nil
	r.rows[c.ID] = row
	return nil
}

func (r *Complaints) GetByID(_ context.Context, id int64) (*domain.Complaint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (r *Complaints) ListByUser(_ context.Context, userID int64) ([]*domain.Complaint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.Complaint{}
	for _, row := range r.rows {
		if row.UserID == userID {
			c := row
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Complaints) Update(_ context.Context, c *domain.Complaint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[c.ID]; !ok {
		return repository.ErrNotFound
	}
	c.UpdatedAt = time.Now()
	row := *c
	row.Files = nil
	r.rows[c.ID] = row
	return nil
}

func (r *Complaints) UpdateSubmissionType(_ context.Context, id int64, st domain.SubmissionType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	row.SubmissionType = st
	r.rows[id] = row
	return nil
}

func (r *Complaints) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

// Catalog holds the categories and departments
type Catalog struct {
	Categories  []*domain.Category
	Departments []*domain.Department
}

// SeededCatalog has two categories with one department each
func SeededCatalog() *Catalog {
	road, env := int64(1), int64(2)
	return &Catalog{
		Categories: []*domain.Category{
			{ID: 1, Name: "road", DisplayName: "도로"},
			{ID: 2, Name: "environment", DisplayName: "환경"},
		},
		Departments: []*domain.Department{
			{ID: 10, CategoryID: &road, Name: "도로관리과"},
			{ID: 20, CategoryID: &env, Name: "환경정책과"},
		},
	}
}

// Categories is a CategoryRepository over a Catalog
type Categories struct{ *Catalog }

func (r Categories) List(context.Context) ([]*domain.Category, error) {
	return r.Catalog.Categories, nil
}

func (r Categories) Exists(_ context.Context, id int64) (bool, error) {
	for _, c := range r.Catalog.Categories {
		if c.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Departments is a DepartmentRepository over a Catalog
type Departments struct{ *Catalog }

func (r Departments) List(_ context.Context, categoryID *int64) ([]*domain.Department, error) {
	out := []*domain.Department{}
	for _, d := range r.Catalog.Departments {
		if categoryID == nil || (d.CategoryID != nil && *d.CategoryID == *categoryID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r Departments) GetByID(_ context.Context, id int64) (*domain.Department, error) {
	for _, d := range r.Catalog.Departments {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r Departments) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := r.GetByID(ctx, id)
	return err == nil, nil
}

// Files is an in-memory FileRepository
type Files struct {
	mu     sync.Mutex
	nextID int64
	rows   []domain.File

	// Fail makes Create return this error
	Fail error
}

func (r *Files) Create(_ context.Context, f *domain.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.nextID++
	f.ID = r.nextID
	f.UploadedAt = time.Now()
	r.rows = append(r.rows, *f)
	return nil
}

func (r *Files) GetByID(_ context.Context, id int64) (*domain.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.rows {
		if f.ID == id {
			return &f, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Files) ListByComplaint(_ context.Context, complaintID int64) ([]domain.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.File{}
	for _, f := range r.rows {
		if f.ComplaintID == complaintID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *Files) CountByComplaint(ctx context.Context, complaintID int64) (int, error) {
	files, err := r.ListByComplaint(ctx, complaintID)
	return len(files), err
}

// ObjectStore is an in-memory attachment store
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: map[string][]byte{}}
}

func (s *ObjectStore) Bucket() string { return "minwon" }

func (s *ObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *ObjectStore) Get(_ context.Context, _, key string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, 0, ErrObjectMissing
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *ObjectStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Keys lists the stored object keys, sorted
func (s *ObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
