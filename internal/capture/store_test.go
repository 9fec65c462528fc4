package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endalk200/better-webhook/internal/httputil"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func saveRecord(t *testing.T, s *Store, id string, at time.Time, body []byte) File {
	t.Helper()
	s.Now = func() time.Time { return at }
	s.NewID = func() string { return id }
	rec := s.BuildBaseRecord("test")
	rec.Method = "POST"
	rec.URL = "/webhooks/test?attempt=1"
	rec.Path = "/webhooks/test"
	rec.Headers = []httputil.Header{{Key: "X-GitHub-Event", Value: "push"}}
	rec.RawBodyBase64 = base64.StdEncoding.EncodeToString(body)
	file, err := s.Save(context.Background(), rec)
	require.NoError(t, err)
	return file
}

func TestSaveRoundTripsBodyExactly(t *testing.T) {
	s := testStore(t)
	body := []byte{0x00, 0x01, 'a', 0xff, '\n', 0xfe}
	saveRecord(t, s, "beadfeed-0000-4000-8000-000000000001", time.Now(), body)

	file, err := s.ResolveByIDOrPrefix(context.Background(), "beadfeed")
	require.NoError(t, err)
	got, err := file.Record.Body()
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestSaveWritesPrettyJSONWithTrailingNewline(t *testing.T) {
	s := testStore(t)
	file := saveRecord(t, s, "beadfeed-0000-4000-8000-000000000001", time.Now(), []byte(`{"ok":true}`))

	data, err := os.ReadFile(filepath.Join(s.Dir(), file.Filename))
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && data[len(data)-1] == '\n')
	assert.Contains(t, string(data), "\n  \"id\":")

	info, err := os.Stat(filepath.Join(s.Dir(), file.Filename))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestListReturnsNewestFirst(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		saveRecord(t, s, fmt.Sprintf("%08d-0000-4000-8000-000000000000", i), base.Add(time.Duration(i)*time.Second), nil)
	}

	files, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, files, 5)
	for i := 1; i < len(files); i++ {
		assert.Greater(t, files[i-1].Record.Timestamp, files[i].Record.Timestamp)
	}
}

func TestListHonoursLimit(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		saveRecord(t, s, fmt.Sprintf("%08d-0000-4000-8000-000000000000", i), base.Add(time.Duration(i)*time.Second), nil)
	}

	files, err := s.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = s.List(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestListSkipsUnparseableFiles(t *testing.T) {
	s := testStore(t)
	saveRecord(t, s, "beadfeed-0000-4000-8000-000000000001", time.Now(), nil)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "zz-broken.jsonc"), []byte("{nope"), 0o600))

	files, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestListMissingDirectoryIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "never-created"))
	files, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, files)
	// Listing must not create the directory.
	_, statErr := os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(statErr))
}

func TestResolveByIDOrPrefix(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 2, 22, 12, 0, 0, 0, time.UTC)
	saveRecord(t, s, "beadfeed-0000-4000-8000-000000000001", base, nil)
	saveRecord(t, s, "beadfade-0000-4000-8000-000000000002", base.Add(time.Second), nil)

	file, err := s.ResolveByIDOrPrefix(context.Background(), "beadfe")
	require.NoError(t, err)
	assert.Equal(t, "beadfeed-0000-4000-8000-000000000001", file.Record.ID)

	_, err = s.ResolveByIDOrPrefix(context.Background(), "bead")
	assert.ErrorIs(t, err, ErrAmbiguousSelector)

	_, err = s.ResolveByIDOrPrefix(context.Background(), "feedbead")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ResolveByIDOrPrefix(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidSelector)
}

func TestDeleteByIDOrPrefix(t *testing.T) {
	s := testStore(t)
	saveRecord(t, s, "beadfeed-0000-4000-8000-000000000001", time.Now(), nil)

	file, err := s.DeleteByIDOrPrefix(context.Background(), "beadfeed")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Dir(), file.Filename))
	assert.True(t, os.IsNotExist(err))

	_, err = s.DeleteByIDOrPrefix(context.Background(), "beadfeed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSafePathRejectsEscapes(t *testing.T) {
	s := testStore(t)
	for _, name := range []string{
		"../outside.jsonc",
		"sub/inside.jsonc",
		`ba\ck.jsonc`,
		"..",
		"",
	} {
		_, err := s.safePath(name)
		assert.ErrorIs(t, err, ErrUnsafeFilename, name)
	}
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFilenamesSortChronologically(t *testing.T) {
	s := testStore(t)
	a := s.filename(Record{ID: "aaaaaaaa", Timestamp: "2026-02-22T12:00:00.12Z"})
	b := s.filename(Record{ID: "bbbbbbbb", Timestamp: "2026-02-22T12:00:00.123Z"})
	assert.Less(t, a, b)
}

func TestOperationsHonourCancellation(t *testing.T) {
	s := testStore(t)
	saveRecord(t, s, "beadfeed-0000-4000-8000-000000000001", time.Now(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.List(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.ResolveByIDOrPrefix(ctx, "beadfeed")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Save(ctx, s.BuildBaseRecord("test"))
	assert.ErrorIs(t, err, context.Canceled)
}
