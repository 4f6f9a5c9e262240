package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

type fakeStore struct {
	objects map[string][]byte
	meta    map[string]map[string]string
	types   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string][]byte),
		meta:    make(map[string]map[string]string),
		types:   make(map[string]string),
	}
}

func (f *fakeStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, meta map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	// S3 returns user metadata with canonical header casing.
	canonical := make(map[string]string, len(meta))
	for k, v := range meta {
		canonical[strings.ToUpper(k[:1])+k[1:]] = v
	}
	f.meta[key] = canonical
	f.types[key] = contentType
	return nil
}

func (f *fakeStore) Stat(ctx context.Context, key string) (map[string]string, error) {
	meta, ok := f.meta[key]
	if !ok {
		return nil, ErrNotFound
	}
	return meta, nil
}

func (f *fakeStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://s3.local/bucket/" + key + "?X-Amz-Expires=" + ttl.String(), nil
}

func (f *fakeStore) Remove(ctx context.Context, key string) error {
	delete(f.objects, key)
	delete(f.meta, key)
	return nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestPutStoresSniffedImage(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	obj, err := svc.Put(context.Background(), Upload{
		OrgID:       "org_1",
		OwnerID:     "prf_1",
		Filename:    "Logo.PNG",
		ContentType: "application/octet-stream",
		Size:        int64(len(pngHeader)),
		Body:        bytes.NewReader(pngHeader),
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.HasPrefix(obj.Key, "org_1/images/med_") || !strings.HasSuffix(obj.Key, ".png") {
		t.Fatalf("Key = %q", obj.Key)
	}
	if obj.ContentType != "image/png" {
		t.Fatalf("ContentType = %q", obj.ContentType)
	}
	if !bytes.Equal(store.objects[obj.Key], pngHeader) {
		t.Fatal("stored bytes differ")
	}
	if !obj.ExpiresAt.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("ExpiresAt = %v", obj.ExpiresAt)
	}
}

func TestPutRejects(t *testing.T) {
	svc := NewService(newFakeStore())
	html := []byte("<!DOCTYPE html><script>alert(1)</script>")

	tests := []struct {
		name   string
		upload Upload
		want   error
	}{
		{"too large", Upload{OrgID: "org_1", Size: MaxUploadBytes + 1, Body: bytes.NewReader(pngHeader)}, ErrTooLarge},
		{"empty", Upload{OrgID: "org_1", Size: 0, Body: bytes.NewReader(nil)}, ErrEmpty},
		{"html disguised as image", Upload{OrgID: "org_1", ContentType: "image/png", Size: int64(len(html)), Body: bytes.NewReader(html)}, ErrUnsupportedType},
		{"svg", Upload{OrgID: "org_1", ContentType: "image/svg+xml", Size: 4, Body: bytes.NewReader([]byte{0, 1, 2, 3})}, ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Put(context.Background(), tt.upload)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Put() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeleteChecksOwnership(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	obj, err := svc.Put(context.Background(), Upload{OrgID: "org_1", OwnerID: "prf_1", Filename: "a.png", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader)})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := svc.Delete(context.Background(), "org_2", obj.Key, "prf_1", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-org delete error = %v", err)
	}
	if err := svc.Delete(context.Background(), "org_1", obj.Key, "prf_2", false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner delete error = %v", err)
	}
	if err := svc.Delete(context.Background(), "org_1", obj.Key, "prf_1", false); err != nil {
		t.Fatalf("owner delete error = %v", err)
	}
	if _, ok := store.objects[obj.Key]; ok {
		t.Fatal("object still present")
	}
	if err := svc.Delete(context.Background(), "org_1", obj.Key, "prf_1", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete error = %v", err)
	}
}

func TestURLLimitsCustomersToOwnUploads(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()
	obj, err := svc.Put(ctx, Upload{OrgID: "org_1", OwnerID: "prf_1", Filename: "receipt.pdf", ContentType: "application/pdf", Size: int64(len(pngHeader)), Body: bytes.NewReader(pngHeader)})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	tests := []struct {
		name      string
		orgID     string
		profileID string
		staff     bool
		wantErr   error
	}{
		{name: "owner", orgID: "org_1", profileID: "prf_1"},
		{name: "staff", orgID: "org_1", profileID: "prf_agent", staff: true},
		{name: "other customer", orgID: "org_1", profileID: "prf_2", wantErr: ErrNotFound},
		{name: "other org staff", orgID: "org_2", profileID: "prf_agent", staff: true, wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := svc.URL(ctx, tt.orgID, obj.Key, tt.profileID, tt.staff)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || url != "" {
					t.Fatalf("URL() = %q, %v, want %v", url, err, tt.wantErr)
				}
				return
			}
			if err != nil || !strings.Contains(url, obj.Key) {
				t.Fatalf("URL() = %q, %v", url, err)
			}
		})
	}
}

func TestDetectTypeAndKind(t *testing.T) {
	tests := []struct {
		head     []byte
		declared string
		want     string
		kind     string
	}{
		{pngHeader, "", "image/png", "images"},
		{[]byte("%PDF-1.7\n"), "", "application/pdf", "documents"},
		{[]byte{0x00, 0x01, 0x02}, "audio/mpeg; charset=binary", "audio/mpeg", "audio"},
		{[]byte("plain words"), "video/mp4", "text/plain", ""},
	}
	for _, tt := range tests {
		got := DetectType(tt.head, tt.declared)
		if got != tt.want {
			t.Errorf("DetectType(%q, %q) = %q, want %q", tt.head, tt.declared, got, tt.want)
		}
		kind, _ := KindOf(got)
		if kind != tt.kind {
			t.Errorf("KindOf(%q) = %q, want %q", got, kind, tt.kind)
		}
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"photo.JPG":         ".jpg",
		"archive.tar.gz":    ".gz",
		"noext":             "",
		"weird.<script>":    "",
		"long.abcdefghijkl": "",
	}
	for in, want := range cases {
		if got := extension(in); got != want {
			t.Errorf("extension(%q) = %q, want %q", in, got, want)
		}
	}
}
