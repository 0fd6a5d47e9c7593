package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/mjc/reencodarr-sub000/internal/models"
	"gorm.io/gorm"
)

// libraryRepo implements LibraryRepository using GORM.
type libraryRepo struct {
	db *gorm.DB
}

// NewLibraryRepository creates a new LibraryRepository.
func NewLibraryRepository(db *gorm.DB) *libraryRepo {
	return &libraryRepo{db: db}
}

// Create creates a new library.
func (r *libraryRepo) Create(ctx context.Context, library *models.Library) error {
	if err := r.db.WithContext(ctx).Create(library).Error; err != nil {
		return fmt.Errorf("creating library: %w", err)
	}
	return nil
}

// GetAll retrieves all libraries.
func (r *libraryRepo) GetAll(ctx context.Context) ([]*models.Library, error) {
	var libraries []*models.Library
	if err := r.db.WithContext(ctx).Order("path ASC").Find(&libraries).Error; err != nil {
		return nil, fmt.Errorf("getting all libraries: %w", err)
	}
	return libraries, nil
}

// GetAllByPrefixLength retrieves libraries sorted by path length
// descending, the order longest-prefix matching wants.
func (r *libraryRepo) GetAllByPrefixLength(ctx context.Context) ([]*models.Library, error) {
	libraries, err := r.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(libraries, func(i, j int) bool {
		return len(libraries[i].Path) > len(libraries[j].Path)
	})
	return libraries, nil
}

// Delete deletes a library by ID.
func (r *libraryRepo) Delete(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Library{}).Error; err != nil {
		return fmt.Errorf("deleting library: %w", err)
	}
	return nil
}

// Ensure libraryRepo implements LibraryRepository at compile time.
var _ LibraryRepository = (*libraryRepo)(nil)
