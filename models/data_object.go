package model

import (
	"context"
	"strings"

	"github.com/cloudreve/davserver/pkg/resource"
	"github.com/jinzhu/gorm"
)

// DataObject mirrors a stored resource for downstream consumers.
type DataObject struct {
	gorm.Model
	Path       string `gorm:"type:varchar(191);unique_index"`
	Collection bool
	Size       int64
	ETag       string
	Owner      string
}

// DataObjectClient keeps DataObject rows in sync with the resource tree.
type DataObjectClient struct {
	db *gorm.DB
}

// NewDataObjectClient creates a client on db.
func NewDataObjectClient(db *gorm.DB) *DataObjectClient {
	return &DataObjectClient{db: db}
}

// Created registers r. An existing row for the same path is updated instead.
func (c *DataObjectClient) Created(ctx context.Context, r resource.Resource) error {
	return c.upsert(r)
}

// Updated refreshes the row of r, creating it when missing.
func (c *DataObjectClient) Updated(ctx context.Context, r resource.Resource) error {
	return c.upsert(r)
}

func (c *DataObjectClient) upsert(r resource.Resource) error {
	obj := &DataObject{}
	err := c.db.Where("path = ?", r.Path()).First(obj).Error
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return err
	}

	if gorm.IsRecordNotFoundError(err) {
		obj = &DataObject{
			Path:       r.Path(),
			Collection: r.IsCollection(),
			Size:       r.ContentLength(),
			ETag:       r.ETag(),
			Owner:      r.CreatedBy(),
		}
		return c.db.Create(obj).Error
	}

	return c.db.Model(obj).Updates(map[string]interface{}{
		"collection": r.IsCollection(),
		"size":       r.ContentLength(),
		"e_tag":      r.ETag(),
	}).Error
}

// Removed deletes the row of p and of everything below it.
func (c *DataObjectClient) Removed(ctx context.Context, p string) error {
	return c.db.Unscoped().
		Where("path = ? OR path LIKE ?", p, likePrefix(p)).
		Delete(&DataObject{}).Error
}

// Moved rewrites the path of src and its descendants to live under dst.
func (c *DataObjectClient) Moved(ctx context.Context, src, dst string) error {
	tx := c.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	var objs []DataObject
	if err := tx.Where("path = ? OR path LIKE ?", src, likePrefix(src)).Find(&objs).Error; err != nil {
		tx.Rollback()
		return err
	}

	for _, obj := range objs {
		newPath := dst + strings.TrimPrefix(obj.Path, src)
		if err := tx.Model(&DataObject{}).Where("id = ?", obj.ID).Update("path", newPath).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}

// Get returns the row of p.
func (c *DataObjectClient) Get(ctx context.Context, p string) (*DataObject, error) {
	obj := &DataObject{}
	err := c.db.Where("path = ?", p).First(obj).Error
	return obj, err
}

func likePrefix(p string) string {
	escaped := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_").Replace(strings.TrimSuffix(p, "/"))
	return escaped + "/%"
}
