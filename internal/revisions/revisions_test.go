package revisions

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/api/internal/store"
)

func samplePost() store.Post {
	return store.Post{
		ID:      "pst_1",
		OrgID:   "org_1",
		Slug:    "hello",
		Title:   "Hello",
		Status:  "draft",
		Content: json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"v1"}]}]}`),
	}
}

func TestCommitListGet(t *testing.T) {
	svc := New(t.TempDir())

	first, created, err := svc.Commit("org_1", "pst_1", SnapshotOf(samplePost()), "Ada Lovelace", "Create post")
	require.NoError(t, err)
	require.True(t, created)
	assert.Len(t, first.Hash, 40)
	assert.Equal(t, "Ada Lovelace", first.Author)

	post := samplePost()
	post.Title = "Hello again"
	post.Content = json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"v2"}]}]}`)
	second, created, err := svc.Commit("org_1", "pst_1", SnapshotOf(post), "Ada Lovelace", "")
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "Update post", second.Message)

	history, err := svc.List("org_1", "pst_1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.Hash, history[0].Hash)
	assert.Equal(t, first.Hash, history[1].Hash)

	limited, err := svc.List("org_1", "pst_1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	snap, info, err := svc.Get("org_1", "pst_1", first.Hash[:10])
	require.NoError(t, err)
	assert.Equal(t, first.Hash, info.Hash)
	assert.Equal(t, "Hello", snap.Title)
	assert.JSONEq(t, string(samplePost().Content), string(snap.Content))
	assert.Equal(t, []string{"content", "title"}, ChangedFields(snap, SnapshotOf(post)))
}

func TestCommitSkipsUnchangedSnapshot(t *testing.T) {
	svc := New(t.TempDir())

	first, _, err := svc.Commit("org_1", "pst_1", SnapshotOf(samplePost()), "Ada", "Create post")
	require.NoError(t, err)

	// Same document with different key order and whitespace.
	post := samplePost()
	post.Content = json.RawMessage(`{"content":[{"content":[{"text":"v1","type":"text"}],"type":"paragraph"}], "type":"doc"}`)
	again, created, err := svc.Commit("org_1", "pst_1", SnapshotOf(post), "Ada", "Save")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Hash, again.Hash)
}

func TestListWithoutRepository(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.List("org_1", "never", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, _, err = svc.Get("org_1", "never", "abcdef1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetUnknownHash(t *testing.T) {
	svc := New(t.TempDir())
	_, _, err := svc.Commit("org_1", "pst_1", SnapshotOf(samplePost()), "Ada", "Create post")
	require.NoError(t, err)

	for _, hash := range []string{"zzzzzzz", "ab", "0123456789abcdef0123456789abcdef01234567"} {
		_, _, err := svc.Get("org_1", "pst_1", hash)
		assert.True(t, errors.Is(err, ErrNotFound), hash)
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	svc := New(t.TempDir())
	_, _, err := svc.Commit("org_1", "../escape", SnapshotOf(samplePost()), "Ada", "x")
	assert.True(t, errors.Is(err, ErrInvalidID))
	_, err = svc.List("..", "pst_1", 1)
	assert.True(t, errors.Is(err, ErrInvalidID))
}

func TestConcurrentCommitsAreSerialized(t *testing.T) {
	svc := New(t.TempDir())
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			post := samplePost()
			post.Title = "Title " + string(rune('A'+n))
			_, _, err := svc.Commit("org_1", "pst_1", SnapshotOf(post), "Ada", "edit")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := svc.List("org_1", "pst_1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestSanitizeEmail(t *testing.T) {
	assert.Equal(t, "ada.lovelace", sanitizeEmail("Ada Lovelace"))
	assert.Equal(t, "editor", sanitizeEmail("!!!"))
}
