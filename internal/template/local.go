package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/endalk200/better-webhook/internal/jsonc"
)

var (
	ErrInvalidTemplateID = errors.New("template id cannot be empty")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrUnmanagedFile     = errors.New("refusing to remove file not managed by better-webhook")
	ErrUnsafeTemplateRef = errors.New("template path escapes the templates directory")
)

const templateExt = ".jsonc"

// metadataKey marks files this tool wrote; Delete refuses files without it.
const metadataKey = "_metadata"

// storedMetadata is the _metadata object embedded in saved template files.
type storedMetadata struct {
	Metadata
	DownloadedAt string `json:"downloaded_at,omitempty"`
}

// LocalStore owns the templates directory tree. Layout is one file per
// template at <dir>/<provider>/<id>.jsonc.
type LocalStore struct {
	dir string

	Now func() time.Time
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir, Now: time.Now}
}

// Dir returns the templates directory.
func (s *LocalStore) Dir() string { return s.dir }

// safeSegment rejects path components that could escape the tree.
func safeSegment(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrUnsafeTemplateRef, name)
	}
	return nil
}

func (s *LocalStore) templatePath(provider, id string) (string, error) {
	if err := safeSegment(provider); err != nil {
		return "", err
	}
	if err := safeSegment(id); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, provider, id+templateExt), nil
}

// Save writes the template with its _metadata marker embedded, atomically.
func (s *LocalStore) Save(ctx context.Context, meta Metadata, tmpl Template) (*Local, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.templatePath(meta.Provider, meta.ID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create template directory: %w", err)
	}

	downloadedAt := s.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	metaJSON, err := json.Marshal(storedMetadata{Metadata: meta, DownloadedAt: downloadedAt})
	if err != nil {
		return nil, fmt.Errorf("encode template metadata: %w", err)
	}
	data, err = sjson.SetRawBytesOptions(data, metadataKey, metaJSON, &sjson.Options{Optimistic: true})
	if err != nil {
		return nil, fmt.Errorf("embed template metadata: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp template file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("persist template file: %w", err)
	}
	return &Local{
		ID:           meta.ID,
		Metadata:     meta,
		Template:     tmpl,
		DownloadedAt: downloadedAt,
		FilePath:     path,
	}, nil
}

// readLocal parses one stored template file into a Local entry.
func (s *LocalStore) readLocal(path string, info fs.FileInfo) (*Local, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	std, err := jsonc.Standardize(data)
	if err != nil {
		return nil, err
	}
	var tmpl Template
	if err := json.Unmarshal(std, &tmpl); err != nil {
		return nil, err
	}

	local := &Local{
		ID:           strings.TrimSuffix(filepath.Base(path), templateExt),
		Template:     tmpl,
		DownloadedAt: info.ModTime().UTC().Format(time.RFC3339Nano),
		FilePath:     path,
	}
	if raw := gjson.GetBytes(std, metadataKey); raw.IsObject() {
		var meta storedMetadata
		if err := json.Unmarshal([]byte(raw.Raw), &meta); err == nil {
			local.Metadata = meta.Metadata
			if meta.ID != "" {
				local.ID = meta.ID
			}
			if meta.DownloadedAt != "" {
				local.DownloadedAt = meta.DownloadedAt
			}
		}
	}
	return local, nil
}

// List walks the tree and returns every parseable template. Unreadable files
// are skipped.
func (s *LocalStore) List(ctx context.Context) ([]*Local, error) {
	var locals []*Local
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), templateExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		local, err := s.readLocal(path, info)
		if err != nil {
			logrus.Debugf("Skipping unreadable template %s: %v", path, err)
			return nil
		}
		locals = append(locals, local)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("walk templates directory: %w", err)
	}
	return locals, nil
}

// Get returns the local template with the exact id.
func (s *LocalStore) Get(ctx context.Context, id string) (*Local, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidTemplateID
	}
	locals, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, local := range locals {
		if local.ID == id {
			return local, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
}

// Delete removes one managed template file. Symlinks that resolve outside
// the templates directory are refused; symlinks that stay inside have their
// resolved target removed.
func (s *LocalStore) Delete(ctx context.Context, id string) error {
	local, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.remove(local)
}

func (s *LocalStore) remove(local *Local) error {
	path := local.FilePath

	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrTemplateNotFound, local.ID)
		}
		return fmt.Errorf("stat template file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("resolve template symlink: %w", err)
		}
		root, err := filepath.EvalSymlinks(s.dir)
		if err != nil {
			return fmt.Errorf("resolve templates directory: %w", err)
		}
		if !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return fmt.Errorf("%w: %q", ErrUnsafeTemplateRef, path)
		}
		path = resolved
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template file: %w", err)
	}
	std, err := jsonc.Standardize(data)
	if err != nil || !gjson.GetBytes(std, metadataKey).IsObject() {
		return fmt.Errorf("%w: %q", ErrUnmanagedFile, path)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete template file: %w", err)
	}
	return nil
}

// Clean removes every managed template and reports how many went away.
func (s *LocalStore) Clean(ctx context.Context) (int, error) {
	locals, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, local := range locals {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.remove(local); err != nil {
			if errors.Is(err, ErrUnmanagedFile) {
				logrus.Debugf("Leaving unmanaged file in place: %s", local.FilePath)
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}
