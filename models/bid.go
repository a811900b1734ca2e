package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid 代表拍賣刊登的出價紀錄
// 出價由遠端程序 place_bid 寫入，這裡只負責讀取
type Bid struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;<-:false"`
	AuctionID uuid.UUID `gorm:"type:uuid;not null;index;<-:false"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;<-:false"`
	Amount    float64   `gorm:"type:numeric;not null;<-:false"`
	CreatedAt time.Time `gorm:"type:timestamp with time zone;not null;<-:false"`
}
