package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"arsa/adapters/normalize"
	"arsa/models"
	"arsa/pricing"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	// ErrRejected 表示遠端程序拒絕了請求（例如出價已被超越）
	ErrRejected = errors.New("request rejected by store")
)

// 各種刊登對應的資料表
var listingTables = map[pricing.Kind]string{
	pricing.KindAuction: "auctions",
	pricing.KindOffer:   "offers",
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

// Open 依照設定建立 Postgres 連線
func Open(config DBConfig) (*gorm.DB, error) {
	const op = "store.Open"
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=require&search_path=%s", config.User, config.Password, config.Host, config.Port, config.Database, config.Schema)
	namingStrategy := schema.NamingStrategy{}
	if config.Schema != "" {
		namingStrategy.TablePrefix = config.Schema + "."
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: namingStrategy,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	return db, nil
}

// Gateway 封裝對外部資料庫的所有存取，包含資料表查詢以及遠端程序呼叫
type Gateway struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewGateway(db *gorm.DB, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		db:     db,
		logger: logger.With(slog.String("caller", "Gateway")),
	}
}

func (g *Gateway) table(kind pricing.Kind) (string, error) {
	name, ok := listingTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown listing kind %q", kind)
	}
	return name, nil
}

// FetchListings 取得指定種類的所有刊登，無法正規化的資料列會被略過並記錄
func (g *Gateway) FetchListings(ctx context.Context, kind pricing.Kind) ([]normalize.Record, error) {
	const op = "FetchListings"
	table, err := g.table(kind)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	var rows []map[string]any
	if result := g.db.WithContext(ctx).Table(table).Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list %s, err=%w", op, table, result.Error)
	}
	records, errs := normalize.Listings(kind, rows)
	for _, err := range errs {
		g.logger.Warn("Skip malformed listing row", slog.String("table", table), slog.Any("error", err))
	}
	return records, nil
}

// FetchListing 取得單一刊登
func (g *Gateway) FetchListing(ctx context.Context, kind pricing.Kind, id string) (normalize.Record, error) {
	const op = "FetchListing"
	table, err := g.table(kind)
	if err != nil {
		return normalize.Record{}, fmt.Errorf("[%s] %w", op, err)
	}
	var rows []map[string]any
	if result := g.db.WithContext(ctx).Table(table).Where("id = ?", id).Limit(1).Find(&rows); result.Error != nil {
		return normalize.Record{}, fmt.Errorf("[%s] Fail to find listing %s, err=%w", op, id, result.Error)
	}
	if len(rows) == 0 {
		return normalize.Record{}, ErrListingNotFound
	}
	record, err := normalize.Listing(kind, rows[0])
	if err != nil {
		return normalize.Record{}, fmt.Errorf("[%s] Fail to normalize listing %s, err=%w", op, id, err)
	}
	return record, nil
}

// FetchBids 一次取得多個拍賣的出價紀錄，依拍賣 ID 分組，順序不保證
func (g *Gateway) FetchBids(ctx context.Context, listingIDs ...string) (map[string][]pricing.Bid, error) {
	const op = "FetchBids"
	out := make(map[string][]pricing.Bid, len(listingIDs))
	if len(listingIDs) == 0 {
		return out, nil
	}
	var records []models.Bid
	if result := g.db.WithContext(ctx).Where("auction_id IN ?", listingIDs).Find(&records); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, result.Error)
	}
	return normalize.Bids(records), nil
}

// PlaceBid 呼叫遠端程序 place_bid，由資料庫端再次驗證並寫入出價
func (g *Gateway) PlaceBid(ctx context.Context, listingID, userID string, amount float64) error {
	const op = "PlaceBid"
	var accepted bool
	result := g.db.WithContext(ctx).Raw("SELECT place_bid(?, ?, ?)", listingID, userID, amount).Scan(&accepted)
	if result.Error != nil {
		return procedureError(op, listingID, result.Error)
	}
	if !accepted {
		return fmt.Errorf("[%s] %w: bid %.2f on %s", op, ErrRejected, amount, listingID)
	}
	return nil
}

// CompleteAuction 呼叫遠端程序 complete_auction，該程序為冪等操作
func (g *Gateway) CompleteAuction(ctx context.Context, listingID string) error {
	const op = "CompleteAuction"
	if result := g.db.WithContext(ctx).Exec("SELECT complete_auction(?)", listingID); result.Error != nil {
		return procedureError(op, listingID, result.Error)
	}
	return nil
}

// procedureError 將遠端程序的錯誤包裝起來，違反檢查或外鍵約束視為被拒絕
func procedureError(op, listingID string, err error) error {
	if errors.Is(err, gorm.ErrCheckConstraintViolated) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return fmt.Errorf("[%s] %w on %s, err=%v", op, ErrRejected, listingID, err)
	}
	return fmt.Errorf("[%s] Fail to call procedure for %s, err=%w", op, listingID, err)
}

// FetchFavorites 取得使用者收藏的刊登 ID
func (g *Gateway) FetchFavorites(ctx context.Context, userID string) (map[string]struct{}, error) {
	const op = "FetchFavorites"
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("[%s] Invalid user id %q, err=%w", op, userID, err)
	}
	var favorites []models.Favorite
	if result := g.db.WithContext(ctx).Where("user_id = ?", uid).Find(&favorites); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list favorites, err=%w", op, result.Error)
	}
	return lo.SliceToMap(favorites, func(f models.Favorite) (string, struct{}) {
		return f.ListingID.String(), struct{}{}
	}), nil
}

// SavePhoto 紀錄刊登照片的上傳
func (g *Gateway) SavePhoto(ctx context.Context, photo models.ListingPhoto) error {
	const op = "SavePhoto"
	if result := g.db.WithContext(ctx).Create(&photo); result.Error != nil {
		return fmt.Errorf("[%s] Fail to record photo, err=%w", op, result.Error)
	}
	return nil
}

// CountPhotosSince 計算使用者在指定時間之後上傳的照片數量
func (g *Gateway) CountPhotosSince(ctx context.Context, uploaderID string, since time.Time) (int64, error) {
	const op = "CountPhotosSince"
	uid, err := uuid.Parse(uploaderID)
	if err != nil {
		return 0, fmt.Errorf("[%s] Invalid uploader id %q, err=%w", op, uploaderID, err)
	}
	var count int64
	if result := g.db.WithContext(ctx).Model(&models.ListingPhoto{}).Where("uploader_id = ? AND created_at > ?", uid, since).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("[%s] Fail to count photos, err=%w", op, result.Error)
	}
	return count, nil
}
