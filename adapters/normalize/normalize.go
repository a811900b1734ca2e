package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"arsa/models"
	"arsa/pricing"
)

var ErrMissingID = errors.New("listing row has no id")

// 各欄位在資料來源中可能出現的名稱，依序取第一個存在且非空的值
var (
	idKeys          = []string{"id", "ID"}
	startKeys       = []string{"start_time", "startTime", "start_date", "starts_at"}
	endKeys         = []string{"end_time", "endTime", "end_date", "ends_at"}
	startPriceKeys  = []string{"starting_price", "startingPrice", "start_price", "price"}
	incrementKeys   = []string{"min_increment", "minIncrement", "bid_increment", "increment"}
	depositKeys     = []string{"deposit_amount", "depositAmount", "deposit"}
	statusKeys      = []string{"status", "auction_status"}
	titleKeys       = []string{"title", "name"}
	descriptionKeys = []string{"description"}
	locationKeys    = []string{"location", "city"}
	areaKeys        = []string{"area", "area_m2"}
	imageKeys       = []string{"images", "image_urls"}
	sellerKeys      = []string{"user_id", "seller_id", "created_by"}
)

var policy = bluemonday.UGCPolicy()

// Record 是經過正規化的刊登資料
// Listing 只包含價格與狀態計算需要的欄位，其餘欄位僅供顯示
type Record struct {
	Listing     pricing.Listing `json:"listing"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    string          `json:"location,omitempty"`
	Area        float64         `json:"area,omitempty"`
	Images      []string        `json:"images"`
	SellerID    string          `json:"sellerId,omitempty"`
}

// Listing 將資料庫回傳的一列資料轉換為 Record
// 無法解析的時間會成為零值，無法解析的金額會成為 NaN，交由 pricing.Listing.Validate 判斷
func Listing(kind pricing.Kind, row map[string]any) (Record, error) {
	const op = "normalize.Listing"
	id := cast.ToString(pick(row, idKeys))
	if id == "" {
		return Record{}, fmt.Errorf("[%s] %w", op, ErrMissingID)
	}

	listing := pricing.Listing{
		ID:            id,
		Kind:          kind,
		StartTime:     toTime(pick(row, startKeys)),
		EndTime:       toTime(pick(row, endKeys)),
		StartingPrice: toAmount(pick(row, startPriceKeys)),
		DepositAmount: toAmount(pick(row, depositKeys)),
		Status:        pricing.Status(strings.ToLower(strings.TrimSpace(cast.ToString(pick(row, statusKeys))))),
	}
	if kind == pricing.KindAuction {
		listing.MinIncrement = toAmount(pick(row, incrementKeys))
	}

	return Record{
		Listing:     listing,
		Title:       strings.TrimSpace(cast.ToString(pick(row, titleKeys))),
		Description: policy.Sanitize(cast.ToString(pick(row, descriptionKeys))),
		Location:    cast.ToString(pick(row, locationKeys)),
		Area:        cast.ToFloat64(pick(row, areaKeys)),
		Images:      toStrings(pick(row, imageKeys)),
		SellerID:    cast.ToString(pick(row, sellerKeys)),
	}, nil
}

// Listings 轉換多列資料，回傳成功的結果以及每一列失敗的錯誤
func Listings(kind pricing.Kind, rows []map[string]any) ([]Record, []error) {
	records := make([]Record, 0, len(rows))
	var errs []error
	for _, row := range rows {
		record, err := Listing(kind, row)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, record)
	}
	return records, errs
}

// Bids 將出價紀錄轉換為 pricing.Bid，依拍賣 ID 分組
func Bids(rows []models.Bid) map[string][]pricing.Bid {
	out := make(map[string][]pricing.Bid)
	for _, row := range rows {
		id := row.AuctionID.String()
		out[id] = append(out[id], pricing.Bid{
			ListingID: id,
			UserID:    row.UserID.String(),
			Amount:    row.Amount,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return out
}

func pick(row map[string]any, keys []string) any {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

func toTime(v any) time.Time {
	if v == nil {
		return time.Time{}
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// toAmount 缺少的金額視為 0，無法解析的金額視為 NaN
func toAmount(v any) float64 {
	if v == nil {
		return 0
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return math.NaN()
	}
	return f
}

func toStrings(v any) []string {
	switch images := v.(type) {
	case nil:
		return []string{}
	case string:
		// Postgres text[] 可能以 {a,b} 的字串形式回傳
		trimmed := strings.Trim(images, "{}")
		if trimmed == "" {
			return []string{}
		}
		return lo.Map(strings.Split(trimmed, ","), func(s string, _ int) string {
			return strings.Trim(s, `" `)
		})
	}
	return lo.Compact(cast.ToStringSlice(v))
}
