// Package media stores uploaded files in an S3-compatible bucket under
// {org}/{kind}/{id}{ext} and hands out presigned download URLs.
package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"storefront/api/internal/util"
)

const (
	MaxUploadBytes = 20 << 20
	PresignTTL     = 24 * time.Hour
)

var (
	ErrTooLarge        = errors.New("file exceeds upload limit")
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrNotFound        = errors.New("media object not found")
	ErrForbidden       = errors.New("media object belongs to another profile")
	ErrEmpty           = errors.New("file is empty")
)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// ObjectStore is the slice of an S3 client the service uses.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, meta map[string]string) error
	Stat(ctx context.Context, key string) (map[string]string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

type Service struct {
	store ObjectStore
	now   func() time.Time
}

func NewService(store ObjectStore) *Service {
	return &Service{store: store, now: time.Now}
}

type Upload struct {
	OrgID       string
	OwnerID     string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Object struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Put validates and stores an upload. The content type is sniffed from the
// first bytes; the declared type is only trusted when sniffing is
// inconclusive.
func (s *Service) Put(ctx context.Context, u Upload) (Object, error) {
	if u.Size > MaxUploadBytes {
		return Object{}, ErrTooLarge
	}
	if u.Size == 0 {
		return Object{}, ErrEmpty
	}

	br := bufio.NewReaderSize(u.Body, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Object{}, fmt.Errorf("read upload: %w", err)
	}
	contentType := DetectType(head, u.ContentType)
	kind, ok := KindOf(contentType)
	if !ok {
		return Object{}, ErrUnsupportedType
	}

	key := u.OrgID + "/" + kind + "/" + util.NewID("med") + extension(u.Filename)
	body := io.LimitReader(br, MaxUploadBytes)
	if err := s.store.Put(ctx, key, body, u.Size, contentType, map[string]string{"owner": u.OwnerID}); err != nil {
		return Object{}, fmt.Errorf("store object: %w", err)
	}

	url, err := s.store.PresignGet(ctx, key, PresignTTL)
	if err != nil {
		return Object{}, fmt.Errorf("presign object: %w", err)
	}
	return Object{
		Key:         key,
		URL:         url,
		ContentType: contentType,
		Size:        u.Size,
		ExpiresAt:   s.now().Add(PresignTTL).UTC(),
	}, nil
}

// URL presigns an existing key of the org. Staff may read any object;
// everyone else only what they uploaded, and other objects look missing.
func (s *Service) URL(ctx context.Context, orgID, key, profileID string, staff bool) (string, error) {
	if !ownsKey(orgID, key) {
		return "", ErrNotFound
	}
	meta, err := s.store.Stat(ctx, key)
	if err != nil {
		return "", err
	}
	if !staff && metaValue(meta, "owner") != profileID {
		return "", ErrNotFound
	}
	return s.store.PresignGet(ctx, key, PresignTTL)
}

// Delete removes an object. Non-admins may only delete what they uploaded.
func (s *Service) Delete(ctx context.Context, orgID, key, profileID string, admin bool) error {
	if !ownsKey(orgID, key) {
		return ErrNotFound
	}
	meta, err := s.store.Stat(ctx, key)
	if err != nil {
		return err
	}
	if !admin && metaValue(meta, "owner") != profileID {
		return ErrForbidden
	}
	if err := s.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// DetectType sniffs data and falls back to the declared type.
func DetectType(head []byte, declared string) string {
	sniffed := http.DetectContentType(head)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/") {
		return sniffed
	}
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	// Declared media types are accepted only when the sniffer had no opinion.
	if sniffed == "application/octet-stream" && declared != "" {
		return declared
	}
	return sniffed
}

// KindOf maps an allowed content type to its key segment.
func KindOf(contentType string) (string, bool) {
	switch {
	case contentType == "image/svg+xml":
		return "", false
	case strings.HasPrefix(contentType, "image/"):
		return "images", true
	case strings.HasPrefix(contentType, "audio/"), contentType == "application/ogg":
		return "audio", true
	case strings.HasPrefix(contentType, "video/"):
		return "video", true
	case contentType == "application/pdf":
		return "documents", true
	}
	return "", false
}

func extension(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if extPattern.MatchString(ext) {
		return ext
	}
	return ""
}

func ownsKey(orgID, key string) bool {
	return orgID != "" && strings.HasPrefix(key, orgID+"/") && !strings.Contains(key, "..")
}

func metaValue(meta map[string]string, key string) string {
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
