// Package catalog persists and reloads task-class descriptors (C10's
// runnable-without-a-translator concession, SPEC_FULL.md §10.1): the
// static, JSON-serializable shape of a taskclass.Class survives process
// restarts via GORM, mirroring the teacher's repository layering.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Catalog is the persistence boundary for class descriptors.
type Catalog interface {
	// Register inserts or replaces the descriptor for d.Name.
	Register(ctx context.Context, d *Descriptor) error
	// Get retrieves a descriptor by name.
	Get(ctx context.Context, name string) (*Descriptor, error)
	// List returns every registered descriptor.
	List(ctx context.Context) ([]*Descriptor, error)
}

// GormCatalog implements Catalog using GORM.
type GormCatalog struct {
	db *gorm.DB
}

// NewGormCatalog creates a GormCatalog over an already-open *gorm.DB.
func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

// Register upserts d by name.
func (c *GormCatalog) Register(ctx context.Context, d *Descriptor) error {
	record, err := d.toRecord()
	if err != nil {
		return fmt.Errorf("catalog: encode descriptor %s: %w", d.Name, err)
	}

	var existing ClassRecord
	err = c.db.WithContext(ctx).Where("name = ?", d.Name).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := c.db.WithContext(ctx).Create(record).Error; err != nil {
			return fmt.Errorf("catalog: create %s: %w", d.Name, err)
		}
	case err != nil:
		return fmt.Errorf("catalog: lookup %s: %w", d.Name, err)
	default:
		record.ID = existing.ID
		if err := c.db.WithContext(ctx).Model(&existing).Updates(record).Error; err != nil {
			return fmt.Errorf("catalog: update %s: %w", d.Name, err)
		}
	}
	return nil
}

// Get retrieves the descriptor registered under name.
func (c *GormCatalog) Get(ctx context.Context, name string) (*Descriptor, error) {
	var record ClassRecord
	err := c.db.WithContext(ctx).Where("name = ?", name).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("catalog: class %q not found", name)
		}
		return nil, fmt.Errorf("catalog: get %s: %w", name, err)
	}
	return record.toDescriptor()
}

// List returns every registered descriptor, ordered by id.
func (c *GormCatalog) List(ctx context.Context) ([]*Descriptor, error) {
	var records []ClassRecord
	if err := c.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}

	descriptors := make([]*Descriptor, len(records))
	for i, r := range records {
		d, err := r.toDescriptor()
		if err != nil {
			return nil, fmt.Errorf("catalog: decode %s: %w", r.Name, err)
		}
		descriptors[i] = d
	}
	return descriptors, nil
}

// AutoMigrate creates/updates the task_classes table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ClassRecord{})
}
