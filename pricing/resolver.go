package pricing

import (
	"math"
	"time"
)

// Pricing 是刊登目前的顯示價格與下一次可接受的最低出價
type Pricing struct {
	CurrentPrice   float64 `json:"currentPrice"`
	MinimumNextBid float64 `json:"minimumNextBid"`
}

// ListingView 是從刊登與出價紀錄推導出的檢視模型，每次使用時重新計算，不會被保存
type ListingView struct {
	Status         Status  `json:"status"`
	CurrentPrice   float64 `json:"currentPrice"`
	MinimumNextBid float64 `json:"minimumNextBid"`
	IsBiddable     bool    `json:"isBiddable"`
}

// ResolveStatus 計算刊登在 now 時的狀態
//
// 資料庫的覆寫值優先於時間判斷；沒有覆寫且缺少時間時一律視為 upcoming，
// 避免無法判斷時間的刊登被當作進行中而接受出價。
func ResolveStatus(listing Listing, now time.Time) Status {
	if status, ok := listing.override(); ok {
		switch status {
		case StatusEnded, StatusCompleted, StatusCancelled:
			return StatusEnded
		case StatusActive:
			return StatusActive
		case StatusUpcoming:
			return StatusUpcoming
		}
	}
	if !listing.hasWindow() {
		return StatusUpcoming
	}
	if now.Before(listing.StartTime) {
		return StatusUpcoming
	}
	if now.After(listing.EndTime) {
		return StatusEnded
	}
	return StatusActive
}

// ResolvePricing 計算顯示價格與最低出價
// 定價出售的刊登不看出價紀錄；拍賣在沒有出價時最低出價等於起標價
func ResolvePricing(listing Listing, bids []Bid) Pricing {
	if listing.Kind != KindAuction {
		return Pricing{CurrentPrice: listing.StartingPrice}
	}
	highest := HighestBid(bids)
	if highest == 0 {
		return Pricing{
			CurrentPrice:   listing.StartingPrice,
			MinimumNextBid: listing.StartingPrice,
		}
	}
	return Pricing{
		CurrentPrice:   highest,
		MinimumNextBid: highest + listing.MinIncrement,
	}
}

// HighestBid 回傳出價紀錄中的最高金額，沒有出價時回傳 0
// 非有限或非正數的金額不是有效出價，會被略過
func HighestBid(bids []Bid) float64 {
	var highest float64
	for _, bid := range bids {
		if !validBidAmount(bid.Amount) {
			continue
		}
		highest = math.Max(highest, bid.Amount)
	}
	return highest
}

func validBidAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// ResolveListingView 組合狀態與價格
func ResolveListingView(listing Listing, bids []Bid, now time.Time) ListingView {
	status := ResolveStatus(listing, now)
	p := ResolvePricing(listing, bids)
	return ListingView{
		Status:         status,
		CurrentPrice:   p.CurrentPrice,
		MinimumNextBid: p.MinimumNextBid,
		IsBiddable:     status == StatusActive && listing.Kind == KindAuction,
	}
}

// ValidateBid 在送出出價請求前檢查出價是否可被接受，成功時回傳正規化後的金額
// 伺服器端仍會再次驗證，這裡只負責提前給出明確的失敗原因。
func ValidateBid(listing Listing, bids []Bid, proposed float64, now time.Time) (float64, error) {
	if err := listing.Validate(); err != nil {
		return 0, err
	}
	view := ResolveListingView(listing, bids, now)
	if !view.IsBiddable {
		return 0, &BidError{Reason: ErrNotBiddable, Proposed: proposed, Minimum: view.MinimumNextBid, Status: view.Status}
	}
	if !validBidAmount(proposed) {
		return 0, &BidError{Reason: ErrInvalidAmount, Proposed: proposed, Minimum: view.MinimumNextBid, Status: view.Status}
	}
	if proposed < view.MinimumNextBid {
		return 0, &BidError{Reason: ErrBidTooLow, Proposed: proposed, Minimum: view.MinimumNextBid, Status: view.Status}
	}
	return proposed, nil
}
