package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"arsa/adapters/normalize"
	"arsa/adapters/store"
	"arsa/models"
	"arsa/pricing"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

var (
	testNow       = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	mu             sync.Mutex
	listings       map[pricing.Kind][]normalize.Record
	bids           map[string][]pricing.Bid
	favorites      map[string]map[string]struct{}
	fetchErr       error
	placeErr       error
	completeErr    error
	placed         []pricing.Bid
	completed      []string
	photos         []models.ListingPhoto
	photoCount     int64
	listCalls      int
	favoritesCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings:  map[pricing.Kind][]normalize.Record{},
		bids:      map[string][]pricing.Bid{},
		favorites: map[string]map[string]struct{}{},
	}
}

func (f *fakeStore) add(listing pricing.Listing, bids ...pricing.Bid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[listing.Kind] = append(f.listings[listing.Kind], normalize.Record{Listing: listing, Title: "Parsel " + listing.ID, Images: []string{}})
	f.bids[listing.ID] = append(f.bids[listing.ID], bids...)
}

func (f *fakeStore) FetchListings(_ context.Context, kind pricing.Kind) ([]normalize.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]normalize.Record(nil), f.listings[kind]...), nil
}

func (f *fakeStore) FetchListing(_ context.Context, kind pricing.Kind, id string) (normalize.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return normalize.Record{}, f.fetchErr
	}
	for _, record := range f.listings[kind] {
		if record.Listing.ID == id {
			return record, nil
		}
	}
	return normalize.Record{}, store.ErrListingNotFound
}

func (f *fakeStore) FetchBids(_ context.Context, ids ...string) (map[string][]pricing.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]pricing.Bid{}
	for _, id := range ids {
		if bids, ok := f.bids[id]; ok {
			out[id] = append([]pricing.Bid(nil), bids...)
		}
	}
	return out, nil
}

func (f *fakeStore) PlaceBid(_ context.Context, listingID, userID string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return f.placeErr
	}
	bid := pricing.Bid{ListingID: listingID, UserID: userID, Amount: amount, CreatedAt: testNow}
	f.placed = append(f.placed, bid)
	f.bids[listingID] = append(f.bids[listingID], bid)
	return nil
}

func (f *fakeStore) CompleteAuction(_ context.Context, listingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, listingID)
	return nil
}

func (f *fakeStore) FetchFavorites(_ context.Context, userID string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.favoritesCalls++
	return f.favorites[userID], nil
}

func (f *fakeStore) SavePhoto(_ context.Context, photo models.ListingPhoto) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, photo)
	return nil
}

func (f *fakeStore) CountPhotosSince(context.Context, string, time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.photoCount, nil
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) UploadFileToS3(_ context.Context, key, _ string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

type fakeProducer struct {
	mu     sync.Mutex
	events []ListingEvent
}

func (p *fakeProducer) Start() {}
func (p *fakeProducer) Close() {}

func (p *fakeProducer) Publish(_ context.Context, event ListingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakeProducer) published() []ListingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ListingEvent(nil), p.events...)
}

type fakeConsumer struct {
	ch   chan ListingEvent
	once sync.Once
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{ch: make(chan ListingEvent, 8)}
}

func (c *fakeConsumer) Start()                         {}
func (c *fakeConsumer) Subscribe() <-chan ListingEvent { return c.ch }
func (c *fakeConsumer) Close()                         { c.once.Do(func() { close(c.ch) }) }

type testEnv struct {
	server   *Server
	store    *fakeStore
	uploader *fakeUploader
	producer *fakeProducer
	consumer *fakeConsumer
	router   *gin.Engine
}

func setupTest(t *testing.T, config ServerConfig) *testEnv {
	t.Helper()
	config.Auth.Secret = testSecret
	env := &testEnv{
		store:    newFakeStore(),
		uploader: &fakeUploader{},
		producer: &fakeProducer{},
		consumer: newFakeConsumer(),
	}
	server, err := New(config, Dependencies{
		Store:    env.store,
		Uploader: env.uploader,
		Producer: env.producer,
		Consumer: env.consumer,
	}, WithClock(func() time.Time { return testNow }), WithLogger(discardLogger))
	require.NoError(t, err)
	env.server = server
	env.router = server.Router()
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func signToken(t *testing.T, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}
