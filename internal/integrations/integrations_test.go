package integrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api/internal/cache"
	"storefront/api/internal/config"
	"storefront/api/internal/retry"
	"storefront/api/internal/store"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"t1","status":"queued"}`))
	}))
	defer srv.Close()

	c := newClient("test", nil)
	c.policy = fastRetry()
	var out Transcript
	require.NoError(t, c.getJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, "t1", out.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient("test", nil)
	c.policy = fastRetry()
	err := c.getJSON(context.Background(), srv.URL, &struct{}{})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newClient("test", nil)
	c.policy = fastRetry()
	err := c.getJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAssemblyAISubmitSendsKeyAndURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/transcript", r.URL.Path)
		assert.Equal(t, "aai-key", r.Header.Get("Authorization"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn.example/a.mp3", body["audio_url"])
		_, _ = w.Write([]byte(`{"id":"tr_1","status":"queued"}`))
	}))
	defer srv.Close()

	a := NewAssemblyAI("aai-key", srv.URL+"/")
	job, err := a.Submit(context.Background(), "https://cdn.example/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, Transcript{ID: "tr_1", Status: "queued"}, job)
}

func TestUnconfiguredClientsAreNil(t *testing.T) {
	assert.Nil(t, NewAssemblyAI("", "x"))
	assert.Nil(t, NewTwilio("AC1", "", "secret"))
	assert.Nil(t, NewPexels("", "x"))
	assert.Nil(t, NewYouTube("", "x"))

	var a *AssemblyAI
	_, err := a.Submit(context.Background(), "u")
	assert.ErrorIs(t, err, ErrNotConfigured)
	var tw *Twilio
	_, err = tw.VideoToken("me", "room", time.Hour)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTwilioVideoToken(t *testing.T) {
	tw := NewTwilio("AC123", "SK456", "s3cret")
	tw.now = func() time.Time { return time.Now().Add(-time.Minute) }

	signed, err := tw.VideoToken("prf_1", "ticket-42", 48*time.Hour)
	require.NoError(t, err)

	var claims twilioClaims
	token, err := jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)

	assert.Equal(t, "twilio-fpa;v=1", token.Header["cty"])
	assert.Equal(t, "SK456", claims.Issuer)
	assert.Equal(t, "AC123", claims.Subject)
	assert.Equal(t, "prf_1", claims.Grants.Identity)
	assert.Equal(t, "ticket-42", claims.Grants.Video.Room)
	assert.Equal(t, maxVideoTokenTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time), "ttl is clamped")
}

func imageServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/v1/search":
			assert.Equal(t, "pexels-key", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"photos":[{"id":7,"photographer":"Ana","alt":"a cat","src":{"large":"https://p/7.jpg","medium":"https://p/7m.jpg"}}]}`))
		case "/search/photos":
			assert.Equal(t, "Client-ID unsplash-key", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"results":[{"id":"u1","description":"","alt_description":"a dog","urls":{"regular":"https://u/1.jpg","thumb":"https://u/1t.jpg"},"user":{"name":"Ben"}}]}`))
		case "/youtube/v3/search":
			assert.Equal(t, "yt-key", r.URL.Query().Get("key"))
			_, _ = w.Write([]byte(`{"items":[{"id":{"videoId":"dQw4w9WgXcQ"},"snippet":{"title":"Intro","description":"d","channelTitle":"Chan","thumbnails":{"medium":{"url":"https://y/t.jpg"}}}},{"id":{"channelId":"UC1"},"snippet":{"title":"channel"}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, baseURL string, s Store) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{
		PexelsKey:         "pexels-key",
		PexelsBaseURL:     baseURL,
		UnsplashKey:       "unsplash-key",
		UnsplashURL:       baseURL,
		YouTubeKey:        "yt-key",
		YouTubeBaseURL:    baseURL,
		AssemblyAIKey:     "aai-key",
		AssemblyAIBaseURL: baseURL,
	}
	return NewService(cfg, s, cache.New(client, "test:"), zerolog.Nop())
}

func TestSearchImagesMergesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := imageServer(t, &calls)
	svc := newTestService(t, srv.URL, nil)
	ctx := context.Background()

	items, err := svc.SearchImages(ctx, "all", "pets", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ImageResult{Provider: "pexels", ID: "7", URL: "https://p/7.jpg", ThumbURL: "https://p/7m.jpg", Author: "Ana", Description: "a cat"}, items[0])
	assert.Equal(t, "unsplash", items[1].Provider)
	assert.Equal(t, "a dog", items[1].Description)

	_, err = svc.SearchImages(ctx, "all", "Pets", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "second search should be served from cache")
}

func TestSearchImagesValidation(t *testing.T) {
	svc := NewService(config.Config{}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.SearchImages(ctx, "pexels", "  ", 0)
	assert.ErrorIs(t, err, ErrEmptyQuery)
	_, err = svc.SearchImages(ctx, "flickr", "cats", 0)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	_, err = svc.SearchImages(ctx, "pexels", "cats", 0)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = svc.SearchImages(ctx, "all", "cats", 0)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, svc.Status()["pexels"])
}

func TestSearchVideosSkipsNonVideos(t *testing.T) {
	var calls atomic.Int32
	srv := imageServer(t, &calls)
	svc := newTestService(t, srv.URL, nil)

	items, err := svc.SearchVideos(context.Background(), "intro", 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, VideoResult{ID: "dQw4w9WgXcQ", Title: "Intro", Description: "d", Channel: "Chan", ThumbURL: "https://y/t.jpg"}, items[0])
}

type memTranscriptions struct {
	items map[string]store.Transcription
}

func (m *memTranscriptions) InsertTranscription(_ context.Context, item store.Transcription) (store.Transcription, error) {
	m.items[item.ID] = item
	return item, nil
}

func (m *memTranscriptions) GetTranscription(_ context.Context, orgID, id string) (store.Transcription, error) {
	item, ok := m.items[id]
	if !ok || item.OrgID != orgID {
		return store.Transcription{}, sql.ErrNoRows
	}
	return item, nil
}

func (m *memTranscriptions) UpdateTranscription(_ context.Context, id, status, text, errText string, at time.Time) error {
	item, ok := m.items[id]
	if !ok {
		return errors.New("missing")
	}
	item.Status, item.Text, item.Error, item.UpdatedAt = status, text, errText, at
	m.items[id] = item
	return nil
}

func TestTranscriptionLifecycle(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"aai_1","status":"queued"}`))
			return
		}
		polls.Add(1)
		assert.Equal(t, "/v2/transcript/aai_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"aai_1","status":"completed","text":"hello there"}`))
	}))
	defer srv.Close()

	mem := &memTranscriptions{items: make(map[string]store.Transcription)}
	svc := newTestService(t, srv.URL, mem)
	ctx := context.Background()

	item, err := svc.Transcribe(ctx, TranscriptionRequest{OrgID: "org_1", ProfileID: "prf_1", TicketID: "tkt_1", AudioURL: "https://cdn/a.mp3"})
	require.NoError(t, err)
	assert.Equal(t, "queued", item.Status)
	require.NotNil(t, item.TicketID)
	assert.Equal(t, "tkt_1", *item.TicketID)

	got, err := svc.Transcription(ctx, "org_1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "hello there", got.Text)

	// Completed jobs are not polled again.
	_, err = svc.Transcription(ctx, "org_1", item.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), polls.Load())

	_, err = svc.Transcription(ctx, "org_2", item.ID)
	assert.True(t, store.IsNotFound(err))
}
