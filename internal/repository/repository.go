package repository

import (
	"github.com/minwoneasy/minwon-api/pkg/database"
)

// Repositories holds all repository interfaces
type Repositories struct {
	User       UserRepository
	Token      TokenRepository
	Complaint  ComplaintRepository
	Category   CategoryRepository
	Department DepartmentRepository
	File       FileRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *database.Postgres) *Repositories {
	return &Repositories{
		User:       NewUserRepository(db),
		Token:      NewTokenRepository(db),
		Complaint:  NewComplaintRepository(db),
		Category:   NewCategoryRepository(db),
		Department: NewDepartmentRepository(db),
		File:       NewFileRepository(db),
	}
}
