package template

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endalk200/better-webhook/internal/httputil"
)

func testLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	s := NewLocalStore(t.TempDir())
	s.Now = func() time.Time { return time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC) }
	return s
}

func pushMeta() Metadata {
	return Metadata{
		ID:          "github-push",
		Name:        "GitHub push",
		Provider:    "github",
		Event:       "push",
		File:        "github/push.jsonc",
		Description: "Branch push event",
	}
}

func pushTemplate() Template {
	return Template{
		Method:   "POST",
		URL:      "https://target.example/hooks",
		Provider: "github",
		Event:    "push",
		Headers:  []httputil.Header{{Key: "X-GitHub-Event", Value: "push"}},
		Body:     json.RawMessage(`{"ref":"refs/heads/main","after":"$uuid"}`),
	}
}

func TestSaveAndGet(t *testing.T) {
	s := testLocalStore(t)

	saved, err := s.Save(context.Background(), pushMeta(), pushTemplate())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "github", "github-push.jsonc"), saved.FilePath)

	got, err := s.Get(context.Background(), "github-push")
	require.NoError(t, err)
	assert.Equal(t, pushMeta(), got.Metadata)
	assert.Equal(t, "POST", got.Template.Method)
	assert.Equal(t, "2026-02-22T12:00:00Z", got.DownloadedAt)
	assert.JSONEq(t, `{"ref":"refs/heads/main","after":"$uuid"}`, string(got.Template.Body))
}

func TestSaveEmbedsManagedMarker(t *testing.T) {
	s := testLocalStore(t)
	saved, err := s.Save(context.Background(), pushMeta(), pushTemplate())
	require.NoError(t, err)

	data, err := os.ReadFile(saved.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"_metadata"`)
	assert.Contains(t, string(data), `"downloaded_at"`)
}

func TestSaveRejectsUnsafeSegments(t *testing.T) {
	s := testLocalStore(t)
	tests := []Metadata{
		{ID: "../escape", Provider: "github"},
		{ID: "ok", Provider: "../github"},
		{ID: "", Provider: "github"},
		{ID: "ok", Provider: ""},
		{ID: `a\b`, Provider: "github"},
	}
	for _, meta := range tests {
		_, err := s.Save(context.Background(), meta, pushTemplate())
		assert.ErrorIs(t, err, ErrUnsafeTemplateRef, "%+v", meta)
	}
}

func TestListWalksProviderTree(t *testing.T) {
	s := testLocalStore(t)
	_, err := s.Save(context.Background(), pushMeta(), pushTemplate())
	require.NoError(t, err)
	prMeta := pushMeta()
	prMeta.ID = "github-pr"
	prMeta.Event = "pull_request"
	_, err = s.Save(context.Background(), prMeta, pushTemplate())
	require.NoError(t, err)
	ragieMeta := pushMeta()
	ragieMeta.ID = "ragie-sync"
	ragieMeta.Provider = "ragie"
	_, err = s.Save(context.Background(), ragieMeta, pushTemplate())
	require.NoError(t, err)

	locals, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, locals, 3)

	ids := make(map[string]bool)
	for _, l := range locals {
		ids[l.ID] = true
	}
	assert.True(t, ids["github-push"] && ids["github-pr"] && ids["ragie-sync"])
}

func TestListMissingDirectoryIsEmpty(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "never-created"))
	locals, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, locals)
}

func TestListSkipsUnparseableFiles(t *testing.T) {
	s := testLocalStore(t)
	_, err := s.Save(context.Background(), pushMeta(), pushTemplate())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.jsonc"), []byte("{nope"), 0o600))

	locals, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, locals, 1)
}

func TestListFallsBackToFilenameAndModTime(t *testing.T) {
	s := testLocalStore(t)
	// A hand-written template without the managed metadata block.
	dir := filepath.Join(s.Dir(), "custom")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "my-hook.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"method":"POST","url":"http://x"}`), 0o600))

	locals, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.Equal(t, "my-hook", locals[0].ID)
	assert.NotEmpty(t, locals[0].DownloadedAt)
	assert.Empty(t, locals[0].Metadata.Provider)
}

func TestGetValidation(t *testing.T) {
	s := testLocalStore(t)
	_, err := s.Get(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidTemplateID)

	_, err = s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestDeleteRemovesManagedFile(t *testing.T) {
	s := testLocalStore(t)
	saved, err := s.Save(context.Background(), pushMeta(), pushTemplate())
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), "github-push"))
	_, statErr := os.Stat(saved.FilePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteRefusesUnmanagedFile(t *testing.T) {
	s := testLocalStore(t)
	dir := filepath.Join(s.Dir(), "custom")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	path := filepath.Join(dir, "handwritten.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"method":"POST","url":"http://x"}`), 0o600))

	err := s.Delete(context.Background(), "handwritten")
	assert.ErrorIs(t, err, ErrUnmanagedFile)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestDeleteRefusesSymlinkEscapingTree(t *testing.T) {
	s := testLocalStore(t)
	outside := filepath.Join(t.TempDir(), "outside.jsonc")
	managed, err := json.Marshal(map[string]any{
		"method": "POST", "url": "http://x",
		metadataKey: map[string]string{"id": "escape"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(outside, managed, 0o600))

	dir := filepath.Join(s.Dir(), "github")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	link := filepath.Join(dir, "escape.jsonc")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	err = s.Delete(context.Background(), "escape")
	assert.ErrorIs(t, err, ErrUnsafeTemplateRef)
	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr)
}

func TestCleanRemovesOnlyManagedFiles(t *testing.T) {
	s := testLocalStore(t)
	_, err := s.Save(context.Background(), pushMeta(), pushTemplate())
	require.NoError(t, err)
	prMeta := pushMeta()
	prMeta.ID = "github-pr"
	_, err = s.Save(context.Background(), prMeta, pushTemplate())
	require.NoError(t, err)

	handwritten := filepath.Join(s.Dir(), "github", "mine.jsonc")
	require.NoError(t, os.WriteFile(handwritten, []byte(`{"method":"POST","url":"http://x"}`), 0o600))

	removed, err := s.Clean(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, statErr := os.Stat(handwritten)
	assert.NoError(t, statErr)

	locals, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, locals, 1)
	assert.True(t, strings.HasSuffix(locals[0].FilePath, "mine.jsonc"))
}
