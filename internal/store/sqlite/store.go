package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/store"
)

// Store implements store.Store on SQLite via gorm. Row updates run inside
// transactions, which provides the per-key write serialization the manager
// relies on for RegisteredTasks and cursor merges.
type Store struct {
	db *gorm.DB
}

// New opens (and creates if needed) the database at dsn
func New(dsn string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate runs database migrations
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&models.Task{},
		&models.WebhookRegistration{},
	)
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

func (s *Store) SaveTask(ctx context.Context, task *models.Task) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", task.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return store.ErrConflict
	}
	return s.db.WithContext(ctx).Create(task).Error
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch store.TaskPatch) (*models.Task, error) {
	var updated *models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.First(&task, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		store.ApplyTaskPatch(&task, patch)
		if err := tx.Save(&task).Error; err != nil {
			return err
		}
		updated = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Task{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := s.db.WithContext(ctx).Order("id").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) GetRegistration(ctx context.Context, sourceIdentifier string) (*models.WebhookRegistration, error) {
	var entry models.WebhookRegistration
	if err := s.db.WithContext(ctx).First(&entry, "source_identifier = ?", sourceIdentifier).Error; err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (s *Store) SaveRegistration(ctx context.Context, entry *models.WebhookRegistration) error {
	return s.db.WithContext(ctx).Save(entry).Error
}

func (s *Store) UpdateRegistration(ctx context.Context, sourceIdentifier string, patch store.RegistrationPatch) (*models.WebhookRegistration, error) {
	var updated *models.WebhookRegistration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.WebhookRegistration
		if err := tx.First(&entry, "source_identifier = ?", sourceIdentifier).Error; err != nil {
			return translate(err)
		}
		store.ApplyRegistrationPatch(&entry, patch)
		if err := tx.Save(&entry).Error; err != nil {
			return err
		}
		updated = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) DeleteRegistration(ctx context.Context, sourceIdentifier string) error {
	res := s.db.WithContext(ctx).Delete(&models.WebhookRegistration{}, "source_identifier = ?", sourceIdentifier)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}
