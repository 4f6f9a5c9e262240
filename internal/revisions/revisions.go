// Package revisions keeps the edit history of CMS posts in one git
// repository per post. Each save writes post.json and commits it on main.
package revisions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"storefront/api/internal/store"
)

const (
	snapshotFile = "post.json"
	mainBranch   = "main"
)

var (
	ErrNotFound  = errors.New("revision not found")
	ErrInvalidID = errors.New("invalid repository id")
)

// Snapshot is the versioned part of a post.
type Snapshot struct {
	Title         string          `json:"title"`
	Slug          string          `json:"slug"`
	Excerpt       string          `json:"excerpt"`
	Status        string          `json:"status"`
	CoverImageURL string          `json:"coverImageUrl,omitempty"`
	Tags          []string        `json:"tags"`
	Content       json.RawMessage `json:"content,omitempty"`
}

// SnapshotOf copies the versioned fields out of a post.
func SnapshotOf(p store.Post) Snapshot {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return Snapshot{
		Title:         p.Title,
		Slug:          p.Slug,
		Excerpt:       p.Excerpt,
		Status:        p.Status,
		CoverImageURL: p.CoverImageURL,
		Tags:          tags,
		Content:       p.Content,
	}
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Commit records a snapshot, initializing the repository on first use. When
// the snapshot equals the current head nothing is committed and the head is
// returned with created=false.
func (s *Service) Commit(orgID, postID string, snap Snapshot, author, message string) (store.CommitInfo, bool, error) {
	path, err := s.repoPath(orgID, postID)
	if err != nil {
		return store.CommitInfo{}, false, err
	}
	lock := s.postLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return store.CommitInfo{}, false, err
	}

	if head, err := headCommit(repo); err == nil {
		current, err := readSnapshot(head)
		if err == nil && !HasChanges(current, snap) {
			return toCommitInfo(head), false, nil
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return store.CommitInfo{}, false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, false, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return store.CommitInfo{}, false, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return store.CommitInfo{}, false, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return store.CommitInfo{}, false, fmt.Errorf("git add snapshot: %w", err)
	}
	if strings.TrimSpace(message) == "" {
		message = "Update post"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@revisions.storefront.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return store.CommitInfo{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), true, nil
}

// List returns commits newest first. A post that was never committed has an
// empty history.
func (s *Service) List(orgID, postID string, limit int) ([]store.CommitInfo, error) {
	path, err := s.repoPath(orgID, postID)
	if err != nil {
		return nil, err
	}
	lock := s.postLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []store.CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := headCommit(repo)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []store.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Get loads the snapshot stored at a full or abbreviated commit hash.
func (s *Service) Get(orgID, postID, hash string) (Snapshot, store.CommitInfo, error) {
	path, err := s.repoPath(orgID, postID)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	lock := s.postLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, store.CommitInfo{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, ErrNotFound
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, store.CommitInfo{}, err
	}
	return snap, toCommitInfo(commitObj), nil
}

// Remove deletes the history of a post.
func (s *Service) Remove(orgID, postID string) error {
	path, err := s.repoPath(orgID, postID)
	if err != nil {
		return err
	}
	lock := s.postLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

// ChangedFields names the snapshot fields that differ, sorted.
func ChangedFields(from, to Snapshot) []string {
	fields := make([]string, 0)
	if from.Title != to.Title {
		fields = append(fields, "title")
	}
	if from.Slug != to.Slug {
		fields = append(fields, "slug")
	}
	if from.Excerpt != to.Excerpt {
		fields = append(fields, "excerpt")
	}
	if from.Status != to.Status {
		fields = append(fields, "status")
	}
	if from.CoverImageURL != to.CoverImageURL {
		fields = append(fields, "coverImageUrl")
	}
	if strings.Join(from.Tags, "\x00") != strings.Join(to.Tags, "\x00") {
		fields = append(fields, "tags")
	}
	if !bytes.Equal(normalizeJSON(from.Content), normalizeJSON(to.Content)) {
		fields = append(fields, "content")
	}
	sort.Strings(fields)
	return fields
}

func HasChanges(from, to Snapshot) bool {
	return len(ChangedFields(from, to)) > 0
}

func (s *Service) repoPath(orgID, postID string) (string, error) {
	for _, id := range []string{orgID, postID} {
		if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
			return "", ErrInvalidID
		}
	}
	return filepath.Join(s.baseDir, orgID, postID), nil
}

func (s *Service) postLock(path string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[path]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[path] = lock
	return lock
}

func openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(mainBranch)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(contents), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String(),
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	hash = strings.TrimSpace(hash)
	if len(hash) < 4 || strings.Trim(strings.ToLower(hash), "0123456789abcdef") != "" {
		return plumbing.ZeroHash, ErrNotFound
	}
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, ErrNotFound
	}
	return *resolved, nil
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "editor"
	}
	return string(out)
}

func normalizeJSON(doc json.RawMessage) []byte {
	if len(doc) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return doc
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return doc
	}
	return normalized
}
