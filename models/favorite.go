package models

import (
	"time"

	"github.com/google/uuid"
)

// Favorite 代表使用者收藏的刊登
type Favorite struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ListingID uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"type:timestamp with time zone"`
}
