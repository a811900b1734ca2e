package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"arsa/adapters/normalize"
	"arsa/adapters/s3"
	"arsa/adapters/store"
	"arsa/models"
	"arsa/pricing"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListingCard 是刊登列表與詳細頁使用的資料，View 於每次請求時重新計算
type ListingCard struct {
	normalize.Record
	View        pricing.ListingView `json:"view"`
	SecondsLeft int64               `json:"secondsLeft,omitempty"`
	Favorite    bool                `json:"favorite"`
	ConfigError string              `json:"configError,omitempty"`
}

type ListingDetail struct {
	ListingCard
	Bids []pricing.Bid `json:"bids"`
}

type bidRequest struct {
	Amount float64 `json:"amount"`
}

type bidResponse struct {
	Amount float64             `json:"amount"`
	View   pricing.ListingView `json:"view"`
}

type photoResponse struct {
	URL string `json:"url"`
}

var (
	errInternal     = errorResponse{Code: "internal_error", Message: "Beklenmeyen bir hata oluştu"}
	errNotFound     = errorResponse{Code: "not_found", Message: "İlan bulunamadı"}
	errInvalidKind  = errorResponse{Code: "invalid_kind", Message: "Geçersiz ilan türü"}
	errInvalidQuery = errorResponse{Code: "invalid_status", Message: "Geçersiz ilan durumu"}
	errInvalidBody  = errorResponse{Code: "invalid_body", Message: "Geçersiz istek"}
)

func (s *Server) card(record normalize.Record, bids []pricing.Bid, favorites map[string]struct{}, now time.Time) ListingCard {
	view := pricing.ResolveListingView(record.Listing, bids, now)
	card := ListingCard{
		Record: record,
		View:   view,
	}
	_, card.Favorite = favorites[record.Listing.ID]
	if err := record.Listing.Validate(); err != nil {
		card.ConfigError = err.Error()
	}
	// JSON 無法表示 NaN 與 Inf，錯誤已記錄在 ConfigError
	card.Listing.StartingPrice = finite(card.Listing.StartingPrice)
	card.Listing.MinIncrement = finite(card.Listing.MinIncrement)
	card.Listing.DepositAmount = finite(card.Listing.DepositAmount)
	card.Area = finite(card.Area)
	card.View.CurrentPrice = finite(card.View.CurrentPrice)
	card.View.MinimumNextBid = finite(card.View.MinimumNextBid)
	switch {
	case view.Status == pricing.StatusUpcoming && !record.Listing.StartTime.IsZero():
		card.SecondsLeft = int64(record.Listing.StartTime.Sub(now) / time.Second)
	case view.Status == pricing.StatusActive && !record.Listing.EndTime.IsZero():
		card.SecondsLeft = int64(record.Listing.EndTime.Sub(now) / time.Second)
	}
	return card
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// favorites 取得使用者收藏，失敗時只記錄並視為沒有收藏
func (s *Server) favorites(c *gin.Context) map[string]struct{} {
	user, ok := userID(c)
	if !ok {
		return nil
	}
	favorites, err := s.store.FetchFavorites(c.Request.Context(), user)
	if err != nil {
		s.logger.Warn("Fail to fetch favorites", slog.String("userID", user), slog.Any("error", err))
		return nil
	}
	return favorites
}

// GetHealth
// (GET /healthz)
func (s *Server) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// List listings of one kind
// (GET /listings?kind=auction|offer&status=upcoming|active|ended)
func (s *Server) GetListings(c *gin.Context) {
	kind, ok := pricing.ParseKind(c.DefaultQuery("kind", string(pricing.KindAuction)))
	if !ok {
		c.JSON(http.StatusBadRequest, errInvalidKind)
		return
	}
	var filter pricing.Status
	if raw := c.Query("status"); raw != "" {
		filter = pricing.Status(raw)
		if !slices.Contains([]pricing.Status{pricing.StatusUpcoming, pricing.StatusActive, pricing.StatusEnded}, filter) {
			c.JSON(http.StatusBadRequest, errInvalidQuery)
			return
		}
	}

	snap, err := s.listings.Get(c.Request.Context(), kind)
	if err != nil {
		s.logger.Error("Fail to load listings", slog.String("kind", string(kind)), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}

	now := s.clock()
	favorites := s.favorites(c)
	cards := make([]ListingCard, 0, len(snap.Records))
	for _, record := range snap.Records {
		card := s.card(record, snap.Bids[record.Listing.ID], favorites, now)
		if filter != "" && card.View.Status != filter {
			continue
		}
		cards = append(cards, card)
	}
	c.JSON(http.StatusOK, cards)
}

// Get one listing with its bid history
// (GET /listings/:kind/:id)
func (s *Server) GetListing(c *gin.Context) {
	kind, ok := pricing.ParseKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, errInvalidKind)
		return
	}
	id := c.Param("id")
	record, err := s.store.FetchListing(c.Request.Context(), kind, id)
	if errors.Is(err, store.ErrListingNotFound) {
		c.JSON(http.StatusNotFound, errNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Fail to fetch listing", slog.String("listingID", id), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}

	bids := []pricing.Bid{}
	if kind == pricing.KindAuction {
		grouped, err := s.store.FetchBids(c.Request.Context(), id)
		if err != nil {
			s.logger.Error("Fail to fetch bids", slog.String("listingID", id), slog.Any("error", err))
			c.JSON(http.StatusBadGateway, errInternal)
			return
		}
		bids = append(bids, grouped[id]...)
	}

	detail := ListingDetail{
		ListingCard: s.card(record, bids, s.favorites(c), s.clock()),
		Bids:        bids,
	}
	// 最新的出價在前
	slices.SortFunc(detail.Bids, func(a, b pricing.Bid) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	c.JSON(http.StatusOK, detail)
}

// Place a bid on an auction
// (POST /auctions/:id/bids)
func (s *Server) PostBid(c *gin.Context) {
	id := c.Param("id")
	user, _ := userID(c)
	var request bidRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errInvalidBody)
		return
	}

	// 出價前一律重新讀取，不使用快取
	record, err := s.store.FetchListing(c.Request.Context(), pricing.KindAuction, id)
	if errors.Is(err, store.ErrListingNotFound) {
		c.JSON(http.StatusNotFound, errNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Fail to fetch auction", slog.String("listingID", id), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}
	grouped, err := s.store.FetchBids(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("Fail to fetch bids", slog.String("listingID", id), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}
	bids := grouped[id]

	now := s.clock()
	amount, err := pricing.ValidateBid(record.Listing, bids, request.Amount, now)
	if err != nil {
		var bidErr *pricing.BidError
		switch {
		case errors.As(err, &bidErr):
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Code: bidErr.Code(), Message: bidErr.Message()})
		case errors.Is(err, pricing.ErrConfiguration):
			s.logger.Error("Auction is misconfigured", slog.String("listingID", id), slog.Any("error", err))
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Code: "configuration_error", Message: "İlan bilgileri hatalı"})
		default:
			c.JSON(http.StatusInternalServerError, errInternal)
		}
		return
	}

	if err := s.store.PlaceBid(c.Request.Context(), id, user, amount); err != nil {
		if errors.Is(err, store.ErrRejected) {
			c.JSON(http.StatusConflict, errorResponse{Code: "bid_rejected", Message: "Teklifiniz kabul edilmedi, lütfen tekrar deneyin"})
			return
		}
		s.logger.Error("Fail to place bid", slog.String("listingID", id), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}
	s.logger.Info("Bid placed", slog.String("listingID", id), slog.String("userID", user), slog.Float64("amount", amount))

	s.listings.Invalidate(pricing.KindAuction)
	s.publish(ListingEvent{
		Type:       EventBidPlaced,
		Kind:       pricing.KindAuction,
		ListingID:  id,
		Amount:     amount,
		OccurredAt: now.UTC(),
	})

	bids = append(slices.Clone(bids), pricing.Bid{ListingID: id, UserID: user, Amount: amount, CreatedAt: now.UTC()})
	c.JSON(http.StatusCreated, bidResponse{
		Amount: amount,
		View:   pricing.ResolveListingView(record.Listing, bids, now),
	})
}

// Complete an auction whose countdown reached zero
// (POST /auctions/:id/complete)
func (s *Server) PostCompleteAuction(c *gin.Context) {
	id := c.Param("id")
	record, err := s.store.FetchListing(c.Request.Context(), pricing.KindAuction, id)
	if errors.Is(err, store.ErrListingNotFound) {
		c.JSON(http.StatusNotFound, errNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Fail to fetch auction", slog.String("listingID", id), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}
	if status := pricing.ResolveStatus(record.Listing, s.clock()); status != pricing.StatusEnded {
		c.JSON(http.StatusConflict, errorResponse{Code: "not_ended", Message: "İhale henüz sona ermedi"})
		return
	}
	if err := s.store.CompleteAuction(c.Request.Context(), id); err != nil {
		s.logger.Error("Fail to complete auction", slog.String("listingID", id), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}
	s.auctionCompleted(record.Listing)
	c.Status(http.StatusNoContent)
}

// Upload a photo of a parcel
// (POST /listings/:kind/:id/photos)
func (s *Server) PostListingPhoto(c *gin.Context) {
	kind, ok := pricing.ParseKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, errInvalidKind)
		return
	}
	id := c.Param("id")
	listingID, err := uuid.Parse(id)
	if err != nil {
		c.JSON(http.StatusNotFound, errNotFound)
		return
	}
	user, _ := userID(c)

	if _, err := s.store.FetchListing(c.Request.Context(), kind, id); err != nil {
		if errors.Is(err, store.ErrListingNotFound) {
			c.JSON(http.StatusNotFound, errNotFound)
			return
		}
		s.logger.Error("Fail to fetch listing", slog.String("listingID", id), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}

	// 檢查是否達到上傳限制
	now := s.clock()
	if limit := s.config.Photo.RateLimitPerHour; limit > 0 {
		count, err := s.store.CountPhotosSince(c.Request.Context(), user, now.Add(-time.Hour))
		if err != nil {
			s.logger.Error("Fail to count uploaded photos", slog.String("userID", user), slog.Any("error", err))
			c.JSON(http.StatusBadGateway, errInternal)
			return
		}
		if count >= limit {
			c.JSON(http.StatusTooManyRequests, errorResponse{Code: "rate_limited", Message: "Çok fazla fotoğraf yüklediniz, lütfen daha sonra tekrar deneyin"})
			return
		}
	}

	// 限制圖片
	// 	1. 小於5MB
	// 	2. 依內容判斷為不包含腳本的圖片檔案
	content, err := s3.ReadAllLimited(c.Request.Body, s3.MaxPhotoSize)
	var limitErr *s3.ReachLimitError
	if errors.As(err, &limitErr) {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Code: "too_large", Message: "Fotoğraf en fazla " + s3.FormatBytes(limitErr.MaxBytes) + " olabilir"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, errInvalidBody)
		return
	}
	mimeType, ext, err := s3.DetectImage(content)
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, errorResponse{Code: "unsupported_image", Message: "Desteklenmeyen dosya türü: " + mimeType})
		return
	}

	url, err := s.uploader.UploadFileToS3(c.Request.Context(), s3.PhotoKey(string(kind), id, ext), mimeType, content)
	if err != nil {
		s.logger.Error("Fail to upload photo", slog.String("listingID", id), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}
	photo := models.ListingPhoto{
		ID:          uuid.New(),
		ListingID:   listingID,
		ListingKind: string(kind),
		UploaderID:  uuid.MustParse(user),
		Url:         url,
		CreatedAt:   now.UTC(),
	}
	if err := s.store.SavePhoto(c.Request.Context(), photo); err != nil {
		s.logger.Error("Fail to record photo", slog.String("url", url), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, errInternal)
		return
	}

	s.listings.Invalidate(kind)
	s.publish(ListingEvent{
		Type:       EventPhotoAdded,
		Kind:       kind,
		ListingID:  id,
		OccurredAt: now.UTC(),
	})
	c.JSON(http.StatusCreated, photoResponse{URL: url})
}
