package storage

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrTooLarge is returned when a stored file exceeds the size limit
var ErrTooLarge = errors.New("file too large")

// Store keeps the bytes of library files, either in a directory or in memory
type Store struct {
	mu sync.RWMutex
	// Path to the upload folder; empty means in-memory
	path string
	// Map to store values when not using persistence
	inMemory map[string][]byte
	// Maximum accepted size of one file, 0 for unlimited
	maxSize int64
}

// NewStore creates a new store rooted at path
func NewStore(path string, maxSize int64) (*Store, error) {
	// Create the directory if it doesn't exist
	if path != "" {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create upload folder: %w", err)
		}
	}

	return &Store{
		path:     path,
		inMemory: make(map[string][]byte),
		maxSize:  maxSize,
	}, nil
}

func (s *Store) file(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.path, key), nil
}

// Put streams r into key and returns the number of bytes written
func (s *Store) Put(key string, r io.Reader) (int64, error) {
	r = s.limit(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	// In-memory storage
	if s.path == "" {
		var buf bytes.Buffer
		n, err := io.Copy(&buf, r)
		if err != nil {
			return 0, err
		}
		if s.maxSize > 0 && n > s.maxSize {
			return 0, ErrTooLarge
		}
		s.inMemory[key] = buf.Bytes()
		return n, nil
	}

	// File-based storage
	path, err := s.file(key)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(s.path, ".upload-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if s.maxSize > 0 && n > s.maxSize {
		return 0, ErrTooLarge
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return n, nil
}

// Open returns a reader over the stored file and its size
func (s *Store) Open(key string) (io.ReadCloser, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// In-memory storage
	if s.path == "" {
		val, ok := s.inMemory[key]
		if !ok {
			return nil, 0, os.ErrNotExist
		}
		return io.NopCloser(bytes.NewReader(val)), int64(len(val)), nil
	}

	// File-based storage
	path, err := s.file(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Exists reports whether key is stored
func (s *Store) Exists(key string) bool {
	rc, _, err := s.Open(key)
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

// Delete removes a stored file. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// In-memory storage
	if s.path == "" {
		delete(s.inMemory, key)
		return nil
	}

	// File-based storage
	path, err := s.file(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Keys returns all stored keys in sorted order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string

	// In-memory storage
	if s.path == "" {
		for k := range s.inMemory {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	}

	// File-based storage
	files, err := os.ReadDir(s.path)
	if err != nil {
		return keys
	}

	for _, file := range files {
		if !file.IsDir() && !strings.HasPrefix(file.Name(), ".upload-") {
			keys = append(keys, file.Name())
		}
	}

	return keys
}

// Close closes the store
func (s *Store) Close() error {
	// Nothing to close for this implementation
	return nil
}

// Backup writes every stored file to w as a tar archive, one entry per
// key, streaming each file from disk
func (s *Store) Backup(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tw := tar.NewWriter(w)

	// In-memory storage
	if s.path == "" {
		keys := make([]string, 0, len(s.inMemory))
		for k := range s.inMemory {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			val := s.inMemory[key]
			hdr := &tar.Header{Name: key, Mode: 0644, Size: int64(len(val)), Typeflag: tar.TypeReg}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if _, err := tw.Write(val); err != nil {
				return err
			}
		}
		return tw.Close()
	}

	// File-based storage
	files, err := os.ReadDir(s.path)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".upload-") {
			continue
		}
		if err := s.backupFile(tw, file.Name()); err != nil {
			return err
		}
	}

	return tw.Close()
}

func (s *Store) backupFile(tw *tar.Writer, key string) error {
	f, err := os.Open(filepath.Join(s.path, key))
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = key
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Restore replaces the store content with an archive produced by Backup.
// Entries are staged one at a time; the current content is only replaced
// once the whole archive has been read.
func (s *Store) Restore(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr := tar.NewReader(r)

	// In-memory storage
	if s.path == "" {
		restored := make(map[string][]byte)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			if _, err := s.file(hdr.Name); err != nil {
				return fmt.Errorf("invalid key %q in backup", hdr.Name)
			}
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, s.limit(tr)); err != nil {
				return err
			}
			if s.maxSize > 0 && int64(buf.Len()) > s.maxSize {
				return ErrTooLarge
			}
			restored[hdr.Name] = buf.Bytes()
		}
		s.inMemory = restored
		return nil
	}

	// File-based storage
	// Stage every entry next to the live files
	staged := make(map[string]string)
	defer func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}()

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read backup: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if _, err := s.file(hdr.Name); err != nil {
			return fmt.Errorf("invalid key %q in backup", hdr.Name)
		}
		tmp, err := s.stage(tr)
		if err != nil {
			return err
		}
		if old, ok := staged[hdr.Name]; ok {
			os.Remove(old)
		}
		staged[hdr.Name] = tmp
	}

	// Then swap the staged files in, dropping whatever the backup lacks
	files, err := os.ReadDir(s.path)
	if err != nil {
		return err
	}
	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".upload-") {
			continue
		}
		if _, ok := staged[file.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.path, file.Name())); err != nil {
			return err
		}
	}
	for key, tmp := range staged {
		if err := os.Rename(tmp, filepath.Join(s.path, key)); err != nil {
			return err
		}
		delete(staged, key)
	}

	return nil
}

// stage copies r into a temporary file in the upload folder
func (s *Store) stage(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp(s.path, ".upload-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, s.limit(r))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxSize > 0 && n > s.maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// limit reads one byte past the size limit to detect oversize input
func (s *Store) limit(r io.Reader) io.Reader {
	if s.maxSize > 0 {
		return io.LimitReader(r, s.maxSize+1)
	}
	return r
}
