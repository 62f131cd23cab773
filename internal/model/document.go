package model

import (
	"time"

	"gorm.io/datatypes"
)

// Document is the relational row behind a document collection entry.
// Fields holds the free-form document body as JSON.
type Document struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	Collection string            `gorm:"size:64;not null;index" json:"collection"`
	Fields     datatypes.JSONMap `gorm:"not null" json:"fields"`
	CreatedAt  time.Time         `json:"created_at"`
}
