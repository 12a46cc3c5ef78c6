// Package images stores uploaded pictures in one flat folder. Files are
// named "<unix millis>_<original name>" and each upload is recorded in the
// sqlite ledger so listings can report the original name and MIME type.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tdzsx789/xufei-agent/server/internal/store"
)

// MaxImageBytes caps a single upload.
const MaxImageBytes int64 = 10 << 20

const tempPattern = ".upload-*"

var (
	// ErrNotImage rejects files whose extension or MIME type is not an image.
	ErrNotImage = errors.New("only image files are allowed (jpeg, jpg, png, gif, bmp, webp)")
	// ErrTooLarge rejects uploads above MaxImageBytes.
	ErrTooLarge = errors.New("file size exceeds limit (max 10MB)")
)

var (
	allowedTypes  = regexp.MustCompile(`jpeg|jpg|png|gif|bmp|webp`)
	imageFileName = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|bmp|webp)$`)
)

// Ledger records uploads. *store.Store satisfies it.
type Ledger interface {
	CreateUpload(ctx context.Context, u store.Upload) error
	Uploads(ctx context.Context) (map[string]store.Upload, error)
}

// Store writes images into dir.
type Store struct {
	dir    string
	ledger Ledger
	clock  clockwork.Clock
}

// PutInput contains the data required to write one image.
type PutInput struct {
	OriginalName string
	ContentType  string
	// Size is the size declared by the client; -1 when unknown.
	Size   int64
	Reader io.Reader
}

// Stored describes a freshly written image.
type Stored struct {
	ID           string    `json:"-"`
	OriginalName string    `json:"originalName"`
	FileName     string    `json:"fileName"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"mimetype"`
	UploadTime   time.Time `json:"uploadTime"`
}

// Entry is one file in the folder listing.
type Entry struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Created      time.Time `json:"created"`
	Modified     time.Time `json:"modified"`
	IsImage      bool      `json:"isImage"`
	OriginalName string    `json:"originalName,omitempty"`
	ContentType  string    `json:"mimetype,omitempty"`
}

// FolderStatus reports whether the image folder exists.
type FolderStatus struct {
	Exists      bool       `json:"exists"`
	Path        string     `json:"path"`
	IsDirectory bool       `json:"isDirectory"`
	Created     *time.Time `json:"created"`
	Modified    *time.Time `json:"modified"`
	Error       string     `json:"error,omitempty"`
}

// NewStore returns a store rooted at dir. The folder is created lazily on
// the first write. ledger may be nil.
func NewStore(dir string, ledger Ledger, clock clockwork.Clock) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("image directory is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{dir: dir, ledger: ledger, clock: clock}, nil
}

// Dir returns the image folder.
func (s *Store) Dir() string {
	return s.dir
}

// EnsureFolder creates the image folder if it is missing and reports whether
// it had to be created.
func (s *Store) EnsureFolder() (bool, error) {
	info, err := os.Stat(s.dir)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%s exists and is not a directory", s.dir)
		}
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat image folder: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return false, fmt.Errorf("create image folder: %w", err)
	}
	slog.Info("image folder created", "dir", s.dir)
	return true, nil
}

// FolderStatus stats the image folder.
func (s *Store) FolderStatus() FolderStatus {
	st := FolderStatus{Path: s.dir}
	info, err := os.Stat(s.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			st.Error = err.Error()
		}
		return st
	}
	mod := info.ModTime()
	st.Exists = true
	st.IsDirectory = info.IsDir()
	// Go exposes no portable birth time; the modification time stands in.
	st.Created = &mod
	st.Modified = &mod
	return st
}

// CheckImage returns ErrNotImage unless both the file extension and the
// content type name one of the accepted image formats.
func CheckImage(name, contentType string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || !allowedTypes.MatchString(ext) {
		return ErrNotImage
	}
	if !allowedTypes.MatchString(strings.ToLower(contentType)) {
		return ErrNotImage
	}
	return nil
}

// IsImageName reports whether name has an accepted image extension.
func IsImageName(name string) bool {
	return imageFileName.MatchString(name)
}

// Put validates and writes one image, then records it in the ledger.
func (s *Store) Put(ctx context.Context, in PutInput) (Stored, error) {
	if in.Reader == nil {
		return Stored{}, fmt.Errorf("image reader is required")
	}
	originalName := cleanName(in.OriginalName)
	if originalName == "" {
		return Stored{}, fmt.Errorf("image name is required")
	}
	contentType := strings.TrimSpace(in.ContentType)
	if err := CheckImage(originalName, contentType); err != nil {
		return Stored{}, err
	}
	if in.Size > MaxImageBytes {
		return Stored{}, ErrTooLarge
	}
	if _, err := s.EnsureFolder(); err != nil {
		return Stored{}, err
	}

	tempFile, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return Stored{}, fmt.Errorf("create temp image file: %w", err)
	}
	tempPath := tempFile.Name()

	size, copyErr := io.Copy(tempFile, io.LimitReader(in.Reader, MaxImageBytes+1))
	closeErr := tempFile.Close()
	if copyErr != nil {
		_ = os.Remove(tempPath)
		return Stored{}, fmt.Errorf("write image bytes: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return Stored{}, fmt.Errorf("close image file: %w", closeErr)
	}
	if size > MaxImageBytes {
		_ = os.Remove(tempPath)
		return Stored{}, ErrTooLarge
	}

	now := s.clock.Now()
	fileName := fmt.Sprintf("%d_%s", now.UnixMilli(), originalName)
	finalPath := filepath.Join(s.dir, fileName)
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return Stored{}, fmt.Errorf("move image into place: %w", err)
	}

	stored := Stored{
		ID:           uuid.NewString(),
		OriginalName: originalName,
		FileName:     fileName,
		Path:         finalPath,
		Size:         size,
		ContentType:  contentType,
		UploadTime:   now.UTC(),
	}
	if s.ledger != nil {
		err := s.ledger.CreateUpload(ctx, store.Upload{
			ID:           stored.ID,
			FileName:     fileName,
			OriginalName: originalName,
			ContentType:  contentType,
			SizeBytes:    size,
			UploadedAt:   stored.UploadTime,
		})
		if err != nil {
			// The file is already in place; a missing ledger row only loses
			// the original name in listings.
			slog.Error("record upload", "file", fileName, "err", err)
		}
	}

	slog.Info("image stored", "file", fileName, "name", originalName, "size", size, "content_type", contentType)
	return stored, nil
}

// List returns every file in the folder, oldest name first. A missing folder
// yields an empty list.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image folder: %w", err)
	}

	var known map[string]store.Upload
	if s.ledger != nil {
		known, err = s.ledger.Uploads(ctx)
		if err != nil {
			slog.Warn("load upload ledger", "err", err)
		}
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".upload-") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			slog.Debug("stat image", "file", name, "err", err)
			continue
		}
		e := Entry{
			Name:     name,
			Size:     info.Size(),
			Created:  info.ModTime(),
			Modified: info.ModTime(),
			IsImage:  IsImageName(name),
		}
		if u, ok := known[name]; ok {
			e.Created = u.UploadedAt
			e.OriginalName = u.OriginalName
			e.ContentType = u.ContentType
		}
		out = append(out, e)
	}
	return out, nil
}

// Images returns only the image entries of List.
func (s *Store) Images(ctx context.Context) ([]Entry, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.IsImage {
			out = append(out, e)
		}
	}
	return out, nil
}

// cleanName strips any directory part a client may have sent.
func cleanName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(filepath.FromSlash(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
