package api

import (
	"time"

	"arsa/pricing"
)

type EventType string

const (
	EventBidPlaced        EventType = "bid_placed"
	EventAuctionCompleted EventType = "auction_completed"
	EventPhotoAdded       EventType = "photo_added"
)

// ListingEvent 在各實例之間廣播，收到的實例會讓對應種類的刊登快取失效
type ListingEvent struct {
	Type       EventType    `msgpack:"type"`
	Kind       pricing.Kind `msgpack:"kind"`
	ListingID  string       `msgpack:"listing_id"`
	Amount     float64      `msgpack:"amount,omitempty"`
	OccurredAt time.Time    `msgpack:"occurred_at"`
}
