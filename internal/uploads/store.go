package uploads

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"docchat/internal/domain"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640

	// maxVariants bounds the name-N search for one upload.
	maxVariants = 10000
)

var newUUID = func() string { return uuid.NewString() }

// Store keeps each account's documents in <root>/<accountID>.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("uploads: root must not be empty")
	}
	return &Store{root: filepath.Clean(root)}, nil
}

// Create writes data under name, or under the first free name-N variant.
// A name is taken when the file or its derived representation exists.
func (s *Store) Create(accountID, name string, data []byte) (domain.Document, error) {
	if err := checkName(name); err != nil {
		return domain.Document{}, err
	}
	if strings.HasSuffix(name, domain.DerivedSuffix) {
		return domain.Document{}, fmt.Errorf("uploads: %q uses the derived suffix: %w", name, domain.ErrInvalidName)
	}
	dir, err := s.accountDir(accountID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return domain.Document{}, fmt.Errorf("uploads: Create: %w", err)
	}

	for n := 0; n < maxVariants; n++ {
		candidate := variant(name, n)
		path := filepath.Join(dir, candidate)
		if exists(domain.DerivedPath(path)) {
			continue
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return domain.Document{}, fmt.Errorf("uploads: Create: %w", err)
		}
		if err := writeAndClose(f, data); err != nil {
			_ = os.Remove(path)
			return domain.Document{}, fmt.Errorf("uploads: Create: %w", err)
		}
		return domain.Document{Name: candidate, Path: path}, nil
	}
	return domain.Document{}, fmt.Errorf("uploads: Create: no free name for %q", name)
}

// List returns the account's documents in name order. A missing folder is
// an empty list.
func (s *Store) List(accountID string) ([]domain.Document, error) {
	dir, err := s.accountDir(accountID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("uploads: List: %w", err)
	}
	docs := make([]domain.Document, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		docs = append(docs, domain.Document{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	return docs, nil
}

func (s *Store) Delete(accountID, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	dir, err := s.accountDir(accountID)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("uploads: %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("uploads: Delete: %w", err)
	}
	return nil
}

// WriteDerived writes data next to path through a temp file and a rename,
// so readers never see a partial derived file.
func (s *Store) WriteDerived(path string, data []byte) (string, error) {
	dst := domain.DerivedPath(path)
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+newUUID()+".tmp")
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("uploads: WriteDerived: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("uploads: WriteDerived: %w", err)
	}
	return dst, nil
}

func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("uploads: Remove: %w", err)
	}
	return nil
}

func (s *Store) accountDir(accountID string) (string, error) {
	if err := checkName(accountID); err != nil {
		return "", fmt.Errorf("uploads: account id: %w", err)
	}
	return filepath.Join(s.root, accountID), nil
}

// checkName accepts a single path element only.
func checkName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
	case strings.ContainsAny(name, `/\`+"\x00"):
	case strings.HasPrefix(name, "."):
	default:
		return nil
	}
	return fmt.Errorf("uploads: %q: %w", name, domain.ErrInvalidName)
}

// variant returns name for n == 0 and <stem>-<n><ext> otherwise.
func variant(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return stem + "-" + strconv.Itoa(n) + ext
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func writeAndClose(f *os.File, data []byte) error {
	_, werr := f.Write(data)
	cerr := f.Close()
	return errors.Join(werr, cerr)
}
