package models

import (
	"time"

	"github.com/google/uuid"
)

// ListingPhoto 代表刊登的照片上傳紀錄
// 包含照片的公開 URL、所屬刊登以及上傳者
type ListingPhoto struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	ListingID   uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	ListingKind string    `gorm:"type:text;not null;<-:create"`
	UploaderID  uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Url         string    `gorm:"type:text;not null;<-:create"`
	CreatedAt   time.Time `gorm:"type:timestamp with time zone;<-:create"`
}
