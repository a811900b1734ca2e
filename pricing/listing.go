package pricing

import (
	"math"
	"time"
)

// Kind 表示刊登的種類
type Kind string

const (
	KindAuction Kind = "auction"
	KindOffer   Kind = "offer"
)

// ParseKind 將字串轉換為 Kind，無法識別時回傳 false
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindAuction, KindOffer:
		return Kind(s), true
	}
	return "", false
}

// Status 表示刊登的生命週期狀態
// 解析後只會是 upcoming、active、ended 三者之一；
// completed 與 cancelled 只會出現在資料庫提供的覆寫值中
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Listing 代表一筆土地刊登（拍賣或定價出售）
// StartTime 或 EndTime 為零值時代表資料缺漏或無法解析
type Listing struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	StartingPrice float64   `json:"startingPrice"`
	MinIncrement  float64   `json:"minIncrement"`
	DepositAmount float64   `json:"depositAmount"`
	// Status 為資料庫提供的覆寫值，空字串代表沒有覆寫
	Status Status `json:"status,omitempty"`
}

// Bid 代表一筆拍賣出價
type Bid struct {
	ListingID string    `json:"listingId"`
	UserID    string    `json:"userId"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// override 回傳可用的覆寫狀態，未知的值視為沒有覆寫
func (l Listing) override() (Status, bool) {
	switch l.Status {
	case StatusUpcoming, StatusActive, StatusEnded, StatusCompleted, StatusCancelled:
		return l.Status, true
	}
	return "", false
}

// hasWindow 檢查開始與結束時間是否皆存在
func (l Listing) hasWindow() bool {
	return !l.StartTime.IsZero() && !l.EndTime.IsZero()
}

// Validate 檢查刊登資料是否足以進行價格與狀態計算
func (l Listing) Validate() error {
	if !validAmount(l.StartingPrice) {
		return &ConfigurationError{ListingID: l.ID, Field: "startingPrice", Value: l.StartingPrice}
	}
	if !validAmount(l.MinIncrement) {
		return &ConfigurationError{ListingID: l.ID, Field: "minIncrement", Value: l.MinIncrement}
	}
	if _, ok := l.override(); !ok && !l.hasWindow() {
		field := "startTime"
		if !l.StartTime.IsZero() {
			field = "endTime"
		}
		return &ConfigurationError{ListingID: l.ID, Field: field, Value: nil}
	}
	return nil
}

func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
