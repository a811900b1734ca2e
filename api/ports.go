package api

import (
	"context"
	"time"

	"arsa/adapters/normalize"
	"arsa/models"
	"arsa/pricing"
)

// Store 是外部資料庫的存取介面，由 store.Gateway 實作
type Store interface {
	FetchListings(ctx context.Context, kind pricing.Kind) ([]normalize.Record, error)
	FetchListing(ctx context.Context, kind pricing.Kind, id string) (normalize.Record, error)
	FetchBids(ctx context.Context, listingIDs ...string) (map[string][]pricing.Bid, error)
	PlaceBid(ctx context.Context, listingID, userID string, amount float64) error
	CompleteAuction(ctx context.Context, listingID string) error
	FetchFavorites(ctx context.Context, userID string) (map[string]struct{}, error)
	SavePhoto(ctx context.Context, photo models.ListingPhoto) error
	CountPhotosSince(ctx context.Context, uploaderID string, since time.Time) (int64, error)
}

// Uploader 由 s3.S3Operator 實作
type Uploader interface {
	UploadFileToS3(ctx context.Context, key, contentType string, fileContent []byte) (string, error)
}
