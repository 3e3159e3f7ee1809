// Package dashboards loads and saves dashboard documents (.rdash files).
package dashboards

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/r9s-ai/dashgate/internal/userctx"
)

const Ext = ".rdash"

var (
	ErrNotFound  = errors.New("dashboard not found")
	ErrInvalidID = errors.New("invalid dashboard id")
)

// Locator picks the directory a user's dashboards live in.
type Locator interface {
	Dir(root string, rc *userctx.Context) (string, error)
}

// Shared keeps every user's dashboards in the root directory.
type Shared struct{}

func (Shared) Dir(root string, _ *userctx.Context) (string, error) { return root, nil }

// PerUser keeps dashboards under root/<user id>. Anonymous callers use root.
type PerUser struct{}

func (PerUser) Dir(root string, rc *userctx.Context) (string, error) {
	if rc == nil || rc.Anonymous() {
		return root, nil
	}
	if err := ValidateID(rc.UserID()); err != nil {
		return "", fmt.Errorf("user id: %w", err)
	}
	return filepath.Join(root, rc.UserID()), nil
}

type Info struct {
	Name string `json:"name"`
}

type NameInfo struct {
	FileName string `json:"dashboardFileName"`
	Title    string `json:"dashboardTitle"`
}

type Store struct {
	root    string
	locator Locator
}

func NewStore(root string, locator Locator) *Store {
	if locator == nil {
		locator = Shared{}
	}
	return &Store{root: root, locator: locator}
}

func (s *Store) Root() string { return s.root }

// ValidateID rejects ids that would escape the dashboards directory.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "", id != strings.TrimSpace(id):
		return ErrInvalidID
	case strings.ContainsAny(id, `/\`), strings.Contains(id, ".."), strings.ContainsRune(id, 0):
		return ErrInvalidID
	}
	return nil
}

func (s *Store) path(rc *userctx.Context, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	dir, err := s.locator.Dir(s.root, rc)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, id+Ext), nil
}

// Load opens the dashboard for reading. The caller closes it.
func (s *Store) Load(rc *userctx.Context, id string) (io.ReadCloser, error) {
	p, err := s.path(rc, id)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- id is validated and joined under the configured root.
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Save replaces the dashboard atomically.
func (s *Store) Save(rc *userctx.Context, id string, r io.Reader) error {
	p, err := s.path(rc, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+id+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// List returns the dashboard names visible to rc, sorted.
func (s *Store) List(rc *userctx.Context) ([]Info, error) {
	dir, err := s.locator.Dir(s.root, rc)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), Ext) {
			continue
		}
		out = append(out, Info{Name: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Names is List plus each dashboard's title. Files whose title cannot be
// read fall back to their file name.
func (s *Store) Names(rc *userctx.Context) ([]NameInfo, error) {
	infos, err := s.List(rc)
	if err != nil {
		return nil, err
	}
	dir, err := s.locator.Dir(s.root, rc)
	if err != nil {
		return nil, err
	}
	out := make([]NameInfo, 0, len(infos))
	for _, info := range infos {
		title, err := ReadTitle(filepath.Join(dir, info.Name+Ext))
		if err != nil || title == "" {
			title = info.Name
		}
		out = append(out, NameInfo{FileName: info.Name, Title: title})
	}
	return out, nil
}

// Info describes one dashboard for a thumbnail card. A file whose title
// cannot be read falls back to its id.
func (s *Store) Info(rc *userctx.Context, id string) (NameInfo, error) {
	p, err := s.path(rc, id)
	if err != nil {
		return NameInfo{}, err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return NameInfo{}, ErrNotFound
	} else if err != nil {
		return NameInfo{}, err
	}
	title, err := ReadTitle(p)
	if err != nil || title == "" {
		title = id
	}
	return NameInfo{FileName: id, Title: title}, nil
}

// ReadTitle reads the Title of a .rdash file: a zip archive holding the
// dashboard as a JSON document.
func ReadTitle(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = zr.Close() }()
	for _, f := range zr.File {
		if !strings.EqualFold(filepath.Ext(f.Name), ".json") {
			continue
		}
		title, err := titleOf(f)
		if err != nil {
			return "", fmt.Errorf("%s: %w", f.Name, err)
		}
		return title, nil
	}
	return "", errors.New("no dashboard document in archive")
}

func titleOf(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	var doc struct {
		Title string `json:"Title"`
	}
	if err := json.NewDecoder(io.LimitReader(rc, 64<<20)).Decode(&doc); err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Title), nil
}
