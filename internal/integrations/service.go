package integrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storefront/api/internal/cache"
	"storefront/api/internal/config"
	"storefront/api/internal/store"
	"storefront/api/internal/util"
)

const (
	searchCacheTTL = 10 * time.Minute
	defaultPerPage = 12
	maxPerPage     = 50
)

var (
	ErrUnknownProvider = errors.New("unknown image provider")
	ErrEmptyQuery      = errors.New("query is required")
)

// Store records transcription jobs so results survive restarts.
type Store interface {
	InsertTranscription(ctx context.Context, item store.Transcription) (store.Transcription, error)
	GetTranscription(ctx context.Context, orgID, id string) (store.Transcription, error)
	UpdateTranscription(ctx context.Context, id, status, text, errText string, at time.Time) error
}

type Service struct {
	store   Store
	cache   *cache.Cache
	log     zerolog.Logger
	now     func() time.Time
	images  map[string]imageSource
	speech  *AssemblyAI
	video   *Twilio
	youtube *YouTube
}

func NewService(cfg config.Config, s Store, c *cache.Cache, log zerolog.Logger) *Service {
	svc := &Service{
		store:   s,
		cache:   c,
		log:     log,
		now:     time.Now,
		images:  make(map[string]imageSource),
		speech:  NewAssemblyAI(cfg.AssemblyAIKey, cfg.AssemblyAIBaseURL),
		video:   NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAPIKeySID, cfg.TwilioAPIKeySecret),
		youtube: NewYouTube(cfg.YouTubeKey, cfg.YouTubeBaseURL),
	}
	// Typed nil pointers must stay out of the interface map.
	if p := NewPexels(cfg.PexelsKey, cfg.PexelsBaseURL); p != nil {
		svc.images["pexels"] = p
	}
	if u := NewUnsplash(cfg.UnsplashKey, cfg.UnsplashURL); u != nil {
		svc.images["unsplash"] = u
	}
	return svc
}

// Status reports which integrations have credentials.
func (s *Service) Status() map[string]bool {
	_, pexels := s.images["pexels"]
	_, unsplash := s.images["unsplash"]
	return map[string]bool{
		"assemblyai": s.speech != nil,
		"twilio":     s.video != nil,
		"pexels":     pexels,
		"unsplash":   unsplash,
		"youtube":    s.youtube != nil,
	}
}

func clampPerPage(n int) int {
	if n <= 0 {
		return defaultPerPage
	}
	if n > maxPerPage {
		return maxPerPage
	}
	return n
}

// SearchImages queries one provider, or all configured ones when provider is
// "all" or empty. A failing provider is skipped in the merged search.
func (s *Service) SearchImages(ctx context.Context, provider, query string, perPage int) ([]ImageResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	perPage = clampPerPage(perPage)

	if provider == "" || provider == "all" {
		if len(s.images) == 0 {
			return nil, ErrNotConfigured
		}
		merged := make([]ImageResult, 0)
		for _, name := range []string{"pexels", "unsplash"} {
			if _, ok := s.images[name]; !ok {
				continue
			}
			items, err := s.cachedImages(ctx, name, query, perPage)
			if err != nil {
				s.log.Warn().Err(err).Str("provider", name).Msg("image search failed")
				continue
			}
			merged = append(merged, items...)
		}
		return merged, nil
	}

	if provider != "pexels" && provider != "unsplash" {
		return nil, ErrUnknownProvider
	}
	if _, ok := s.images[provider]; !ok {
		return nil, ErrNotConfigured
	}
	return s.cachedImages(ctx, provider, query, perPage)
}

func (s *Service) cachedImages(ctx context.Context, provider, query string, perPage int) ([]ImageResult, error) {
	key := fmt.Sprintf("images:%s:%d:%s", provider, perPage, strings.ToLower(query))
	var items []ImageResult
	if hit, err := s.cache.Get(ctx, key, &items); err != nil {
		s.log.Warn().Err(err).Msg("cache read failed")
	} else if hit {
		return items, nil
	}

	items, err := s.images[provider].searchImages(ctx, query, perPage)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, items, searchCacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("cache write failed")
	}
	return items, nil
}

func (s *Service) SearchVideos(ctx context.Context, query string, limit int) ([]VideoResult, error) {
	if s.youtube == nil {
		return nil, ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit = clampPerPage(limit)

	key := fmt.Sprintf("videos:youtube:%d:%s", limit, strings.ToLower(query))
	var items []VideoResult
	if hit, err := s.cache.Get(ctx, key, &items); err == nil && hit {
		return items, nil
	}
	items, err := s.youtube.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, items, searchCacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("cache write failed")
	}
	return items, nil
}

func (s *Service) VideoToken(identity, room string, ttl time.Duration) (string, error) {
	return s.video.VideoToken(identity, room, ttl)
}

type TranscriptionRequest struct {
	OrgID     string
	ProfileID string
	TicketID  string
	AudioURL  string
}

// Transcribe submits audio and records the job.
func (s *Service) Transcribe(ctx context.Context, req TranscriptionRequest) (store.Transcription, error) {
	if s.speech == nil {
		return store.Transcription{}, ErrNotConfigured
	}
	job, err := s.speech.Submit(ctx, req.AudioURL)
	if err != nil {
		return store.Transcription{}, err
	}
	item := store.Transcription{
		ID:         util.NewID("trn"),
		OrgID:      req.OrgID,
		ProfileID:  req.ProfileID,
		ProviderID: job.ID,
		AudioURL:   req.AudioURL,
		Status:     job.Status,
	}
	if req.TicketID != "" {
		item.TicketID = &req.TicketID
	}
	return s.store.InsertTranscription(ctx, item)
}

// Transcription returns the recorded job, polling the provider while it is
// still running.
func (s *Service) Transcription(ctx context.Context, orgID, id string) (store.Transcription, error) {
	item, err := s.store.GetTranscription(ctx, orgID, id)
	if err != nil {
		return store.Transcription{}, err
	}
	if item.Status == "completed" || item.Status == "error" || s.speech == nil {
		return item, nil
	}

	job, err := s.speech.Get(ctx, item.ProviderID)
	if err != nil {
		s.log.Warn().Err(err).Str("transcription_id", id).Msg("transcription poll failed")
		return item, nil
	}
	if job.Status == item.Status {
		return item, nil
	}
	now := s.now().UTC()
	if err := s.store.UpdateTranscription(ctx, item.ID, job.Status, job.Text, job.Error, now); err != nil {
		return store.Transcription{}, err
	}
	item.Status, item.Text, item.Error, item.UpdatedAt = job.Status, job.Text, job.Error, now
	return item, nil
}
