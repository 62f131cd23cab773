package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"patient-assistant/internal/docstore"
	"patient-assistant/internal/model"
)

// DocumentRepository stores every collection in one documents table.
type DocumentRepository struct {
	db *gorm.DB
}

var _ docstore.Store = (*DocumentRepository)(nil)

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) FetchAll(ctx context.Context, collection string) ([]docstore.Document, error) {
	var rows []model.Document
	if err := r.db.WithContext(ctx).Where("collection = ?", collection).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w: %w", docstore.ErrUnavailable, err)
	}
	return toDocuments(rows), nil
}

func (r *DocumentRepository) Append(ctx context.Context, collection string, fields map[string]any) (string, error) {
	row := &model.Document{
		Collection: collection,
		Fields:     datatypes.JSONMap(fields),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("create document failed: %w: %w", docstore.ErrUnavailable, err)
	}
	return strconv.FormatUint(uint64(row.ID), 10), nil
}

func (r *DocumentRepository) QueryWhere(ctx context.Context, collection, field, value string) ([]docstore.Document, error) {
	var rows []model.Document
	err := r.db.WithContext(ctx).
		Where("collection = ?", collection).
		Where(datatypes.JSONQuery("fields").Equals(value, field)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query documents failed: %w: %w", docstore.ErrUnavailable, err)
	}
	return toDocuments(rows), nil
}

func (r *DocumentRepository) Delete(ctx context.Context, collection, id string) error {
	parsed, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	result := r.db.WithContext(ctx).Where("id = ? AND collection = ?", parsed, collection).Delete(&model.Document{})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("delete %s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		return fmt.Errorf("delete document failed: %w: %w", docstore.ErrUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func toDocuments(rows []model.Document) []docstore.Document {
	docs := make([]docstore.Document, len(rows))
	for i, row := range rows {
		docs[i] = docstore.Document{
			ID:         strconv.FormatUint(uint64(row.ID), 10),
			Collection: row.Collection,
			Fields:     map[string]any(row.Fields),
			CreatedAt:  row.CreatedAt,
		}
	}
	return docs
}
