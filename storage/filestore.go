package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrUnsafeName is returned for basenames that could escape the base
	// folder.
	ErrUnsafeName = errors.New("invalid file basename")
	// ErrBaseMissing is returned when the base folder does not exist.
	ErrBaseMissing = errors.New("base folder does not exist")
)

// FileStore performs filesystem operations confined to the recording base
// folder. Only safe basenames are ever resolved against it.
type FileStore struct {
	base string
}

func NewFileStore(base string) *FileStore {
	return &FileStore{base: base}
}

// Base returns the configured base folder.
func (s *FileStore) Base() string {
	return s.base
}

// SafeBasename reports whether name is a plain file name: non-empty, free of
// parent references and of any path separator.
func SafeBasename(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}

// Resolve returns the absolute path of name inside the base folder.
func (s *FileStore) Resolve(name string) (string, error) {
	if !SafeBasename(name) {
		return "", ErrUnsafeName
	}
	abs, err := filepath.Abs(filepath.Join(s.base, name))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return abs, nil
}

// FileEntry is one row of a folder listing.
type FileEntry struct {
	Name            string `json:"name"`
	SizeBytes       int64  `json:"size_bytes"`
	LastModifiedUTC string `json:"last_modified_utc"`
}

// List returns the regular files in the base folder, newest first.
// Directories and symlinks are excluded. ext filters by suffix (without the
// dot); pass "" for no filter.
func (s *FileStore) List(ext string) ([]FileEntry, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBaseMissing
		}
		return nil, fmt.Errorf("read base folder: %w", err)
	}

	suffix := ""
	if ext != "" {
		suffix = "." + strings.ToLower(strings.TrimPrefix(ext, "."))
	}

	type row struct {
		entry FileEntry
		mtime time.Time
	}
	var rows []row
	for _, de := range entries {
		if de.IsDir() || de.Type()&os.ModeSymlink != 0 {
			continue
		}
		if suffix != "" && !strings.HasSuffix(strings.ToLower(de.Name()), suffix) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		rows = append(rows, row{
			entry: FileEntry{
				Name:            de.Name(),
				SizeBytes:       fi.Size(),
				LastModifiedUTC: fi.ModTime().UTC().Format(time.RFC3339),
			},
			mtime: fi.ModTime(),
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].mtime.After(rows[j].mtime) })

	out := make([]FileEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry
	}
	return out, nil
}

// FileDetails is the full stat result for one file.
type FileDetails struct {
	Name            string `json:"file"`
	Path            string `json:"path"`
	FolderBase      string `json:"folder_base"`
	SizeBytes       int64  `json:"size_bytes"`
	Suffix          string `json:"suffix"`
	LastModifiedUTC string `json:"last_modified_utc"`
	CreatedUTC      string `json:"created_utc"`
	IsReadable      bool   `json:"is_readable"`
}

// Stat resolves name and returns its details. The created time is best
// effort; platforms without one report the modification time.
func (s *FileStore) Stat(name string) (FileDetails, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return FileDetails{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return FileDetails{}, err
	}

	created := createdTime(fi)

	readable := true
	if f, err := os.Open(path); err != nil {
		readable = false
	} else {
		f.Close()
	}

	return FileDetails{
		Name:            name,
		Path:            path,
		FolderBase:      s.base,
		SizeBytes:       fi.Size(),
		Suffix:          strings.TrimPrefix(filepath.Ext(name), "."),
		LastModifiedUTC: fi.ModTime().UTC().Format(time.RFC3339),
		CreatedUTC:      created.UTC().Format(time.RFC3339),
		IsReadable:      readable,
	}, nil
}

// Remove deletes name from the base folder.
func (s *FileStore) Remove(name string) error {
	path, err := s.Resolve(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}
