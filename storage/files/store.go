// Package files keeps uploaded PDFs and their extracted images on the local disk:
//
//	<root>/<username>/<file>.pdf
//	<root>/<username>/images/<image folder>/<image>
package files

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/kitabu/core/library"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

const maxNameAttempts = 1000

type Store struct {
	root string
	now  func() time.Time
}

var _ library.FileStore = (*Store)(nil) // interface compliance check

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating upload dir")
	}
	return &Store{root: root, now: time.Now}, nil
}

// safeName keeps the last element of `name`, refusing names that would escape their directory.
func safeName(name string) (string, error) {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", errors.Errorf("invalid file name %q", name)
	}
	return name, nil
}

func (s *Store) userDir(username string) (string, error) {
	name, err := safeName(username)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

func (s *Store) imageDir(username, folder string) (string, error) {
	dir, err := s.userDir(username)
	if err != nil {
		return "", err
	}
	folder, err = safeName(folder)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "images", folder), nil
}

// SavePDF writes the uploaded file under the user's dir.
// An existing file is never overwritten: the new one gets a `_YYYYMMDD_HHMMSS` suffix, then a counter.
func (s *Store) SavePDF(username, filename string, r io.Reader) (library.SavedFile, error) {
	dir, err := s.userDir(username)
	if err != nil {
		return library.SavedFile{}, err
	}
	if filename, err = safeName(filename); err != nil {
		return library.SavedFile{}, err
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return library.SavedFile{}, errors.Wrap(err, "creating user dir")
	}

	tmp, err := os.CreateTemp(dir, ".upload-"+uuid.NewString()+"-*")
	if err != nil {
		return library.SavedFile{}, errors.Wrap(err, "creating temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	hash := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(r, hash))
	if cErr := tmp.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		return library.SavedFile{}, errors.Wrap(err, "writing upload")
	}

	path, err := s.link(tmp.Name(), dir, filename)
	if err != nil {
		return library.SavedFile{}, err
	}
	return library.SavedFile{Path: path, Size: size, SHA256: hex.EncodeToString(hash.Sum(nil))}, nil
}

// link gives `tmp` the first free name derived from `filename`. Hard links fail on existing names,
// so concurrent uploads never share a file.
func (s *Store) link(tmp, dir, filename string) (string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	stamp := s.now().UTC().Format("20060102_150405")

	for n := 0; n < maxNameAttempts; n++ {
		var name string
		switch n {
		case 0:
			name = filename
		case 1:
			name = stem + "_" + stamp + ext
		default:
			name = fmt.Sprintf("%s_%s_%d%s", stem, stamp, n, ext)
		}
		path := filepath.Join(dir, name)
		err := os.Link(tmp, path)
		if err == nil {
			return path, nil
		}
		if !os.IsExist(err) {
			return "", errors.Wrap(err, "storing upload")
		}
	}
	return "", errors.Errorf("no free name for %q", filename)
}

func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) RemovePDF(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing PDF")
	}
	return nil
}

func (s *Store) ResetImageDir(username, folder string) (string, error) {
	dir, err := s.imageDir(username, folder)
	if err != nil {
		return "", err
	}
	if err = os.RemoveAll(dir); err != nil {
		return "", errors.Wrap(err, "clearing image dir")
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating image dir")
	}
	return dir, nil
}

// ListImages returns the image file names of a folder, sorted. A missing folder has no images.
func (s *Store) ListImages(username, folder string) ([]string, error) {
	dir, err := s.imageDir(username, folder)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "listing images")
	}
	var imgs []string
	for _, e := range entries {
		if e.Type().IsRegular() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			imgs = append(imgs, e.Name())
		}
	}
	sort.Strings(imgs)
	return imgs, nil
}

func (s *Store) ImagePath(username, folder, filename string) string {
	dir, err := s.imageDir(username, folder)
	if err != nil {
		return ""
	}
	if filename, err = safeName(filename); err != nil {
		return ""
	}
	return filepath.Join(dir, filename)
}

func (s *Store) RemoveImages(username, folder string) error {
	dir, err := s.imageDir(username, folder)
	if err != nil {
		return err
	}
	return errors.Wrap(os.RemoveAll(dir), "removing images")
}
