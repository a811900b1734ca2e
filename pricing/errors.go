package pricing

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount = errors.New("bid amount must be a positive finite number")
	ErrBidTooLow     = errors.New("bid amount is below the minimum next bid")
	ErrNotBiddable   = errors.New("listing is not an active auction")
	ErrConfiguration = errors.New("listing configuration is invalid")
)

// BidError 描述出價被拒絕的原因，Reason 為上方的其中一個哨兵錯誤
type BidError struct {
	Reason   error
	Proposed float64
	Minimum  float64
	Status   Status
}

func (e *BidError) Error() string {
	switch e.Reason {
	case ErrBidTooLow:
		return fmt.Sprintf("%s: proposed=%.2f minimum=%.2f", e.Reason, e.Proposed, e.Minimum)
	case ErrNotBiddable:
		return fmt.Sprintf("%s: status=%s", e.Reason, e.Status)
	}
	return e.Reason.Error()
}

func (e *BidError) Unwrap() error {
	return e.Reason
}

// Code 回傳穩定的錯誤代碼，供前端判斷
func (e *BidError) Code() string {
	switch e.Reason {
	case ErrInvalidAmount:
		return "invalid_amount"
	case ErrBidTooLow:
		return "bid_too_low"
	case ErrNotBiddable:
		return "not_biddable"
	}
	return "configuration_error"
}

// Message 回傳可直接顯示給使用者的訊息
func (e *BidError) Message() string {
	switch e.Reason {
	case ErrInvalidAmount:
		return "Geçerli bir teklif tutarı giriniz"
	case ErrBidTooLow:
		return fmt.Sprintf("Teklif çok düşük, en az %.2f TL olmalı", e.Minimum)
	case ErrNotBiddable:
		if e.Status == StatusUpcoming {
			return "İhale henüz başlamadı"
		}
		if e.Status == StatusEnded {
			return "İhale sona erdi"
		}
		return "Bu ilana teklif verilemez"
	}
	return "İlan bilgileri hatalı"
}

// ConfigurationError 表示刊登資料本身有誤（負數、非有限數值、缺少時間）
type ConfigurationError struct {
	ListingID string
	Field     string
	Value     any
}

func (e *ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: listing=%s field=%s is missing", ErrConfiguration, e.ListingID, e.Field)
	}
	return fmt.Sprintf("%s: listing=%s field=%s value=%v", ErrConfiguration, e.ListingID, e.Field, e.Value)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
