package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/endalk200/better-webhook/internal/httputil"
	"github.com/endalk200/better-webhook/internal/jsonc"
)

var (
	ErrInvalidSelector   = errors.New("capture selector cannot be empty")
	ErrNotFound          = errors.New("capture not found")
	ErrAmbiguousSelector = errors.New("capture selector matches multiple captures")
	ErrInvalidLimit      = errors.New("limit must be greater than zero")
	ErrUnsafeFilename    = errors.New("unsafe capture filename")
)

const captureExt = ".jsonc"

// Filename timestamps use dashes instead of colons and a fixed-width
// fraction so lexical order equals chronological order.
const filenameTimeLayout = "2006-01-02T15-04-05.000000000Z"

// Store persists capture records as one JSONC file each under a single
// directory it owns exclusively. Writes are atomic (temp file + rename,
// 0600 files in a 0700 directory); readers take no locks.
type Store struct {
	dir string

	Now   func() time.Time
	NewID func() string
}

// NewStore returns a store rooted at dir. The directory is created lazily on
// the first save; listing never creates it.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// Dir returns the captures directory.
func (s *Store) Dir() string { return s.dir }

// BuildBaseRecord assigns an id, timestamp and meta for a new capture.
func (s *Store) BuildBaseRecord(toolVersion string) Record {
	now := s.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	return Record{
		ID:        s.NewID(),
		Timestamp: stamp,
		Headers:   []httputil.Header{},
		Provider:  ProviderUnknown,
		Meta: Meta{
			StoredAt:           stamp,
			BodyEncoding:       "base64",
			CaptureToolVersion: toolVersion,
		},
	}
}

// filename derives the storage name for a record from its timestamp and id.
func (s *Store) filename(rec Record) string {
	t, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		t = s.Now()
	}
	id := rec.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return t.UTC().Format(filenameTimeLayout) + "_" + id + captureExt
}

// safePath joins name onto the captures directory, rejecting anything that
// could escape it.
func (s *Store) safePath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name != filepath.Clean(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	full := filepath.Join(s.dir, name)
	if !strings.HasPrefix(full, filepath.Clean(s.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, name)
	}
	return full, nil
}

// Save writes rec to disk atomically and returns the resulting file.
func (s *Store) Save(ctx context.Context, rec Record) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return File{}, fmt.Errorf("create captures directory: %w", err)
	}

	name := s.filename(rec)
	path, err := s.safePath(name)
	if err != nil {
		return File{}, err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return File{}, fmt.Errorf("encode capture record: %w", err)
	}
	data = append(data, '\n')

	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return File{}, fmt.Errorf("write temp capture file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return File{}, fmt.Errorf("persist capture file: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return File{}, fmt.Errorf("set capture file mode: %w", err)
	}
	return File{Filename: name, Record: rec}, nil
}

// listNames returns the capture filenames sorted newest first. A missing
// directory is an empty store, not an error.
func (s *Store) listNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read captures directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), captureExt) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// read decodes one capture file. The read path tolerates JSONC.
func (s *Store) read(name string) (Record, error) {
	path, err := s.safePath(name)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read capture file: %w", err)
	}
	var rec Record
	if err := jsonc.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns up to limit captures, newest first. Files that fail to parse
// are skipped.
func (s *Store) List(ctx context.Context, limit int) ([]File, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	names, err := s.listNames()
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, limit)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(files) == limit {
			break
		}
		rec, err := s.read(name)
		if err != nil {
			logrus.Debugf("Skipping unreadable capture %s: %v", name, err)
			continue
		}
		files = append(files, File{Filename: name, Record: rec})
	}
	return files, nil
}

// ResolveByIDOrPrefix finds the single capture whose id equals selector or
// starts with it.
func (s *Store) ResolveByIDOrPrefix(ctx context.Context, selector string) (File, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return File{}, ErrInvalidSelector
	}
	names, err := s.listNames()
	if err != nil {
		return File{}, err
	}
	var matches []File
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return File{}, err
		}
		rec, err := s.read(name)
		if err != nil {
			logrus.Debugf("Skipping unreadable capture %s: %v", name, err)
			continue
		}
		if rec.ID == selector || strings.HasPrefix(rec.ID, selector) {
			matches = append(matches, File{Filename: name, Record: rec})
		}
	}
	switch len(matches) {
	case 0:
		return File{}, fmt.Errorf("%w: %q", ErrNotFound, selector)
	case 1:
		return matches[0], nil
	default:
		return File{}, fmt.Errorf("%w: %q", ErrAmbiguousSelector, selector)
	}
}

// DeleteByIDOrPrefix resolves selector and removes the matching file. Losing
// a race with another deleter reports the capture as not found.
func (s *Store) DeleteByIDOrPrefix(ctx context.Context, selector string) (File, error) {
	file, err := s.ResolveByIDOrPrefix(ctx, selector)
	if err != nil {
		return File{}, err
	}
	path, err := s.safePath(file.Filename)
	if err != nil {
		return File{}, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return File{}, fmt.Errorf("%w: %q", ErrNotFound, selector)
		}
		return File{}, fmt.Errorf("delete capture file: %w", err)
	}
	return file, nil
}
