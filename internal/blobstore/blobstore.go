package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/memo-organizer/internal/models"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature = errors.New("invalid or expired signature")
	ErrPathTraversal    = errors.New("path traversal is forbidden")
	ErrNotFound         = errors.New("blob not found")
)

const stampLayout = "20060102_150405"

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._ -]+`)
	stampPrefix = regexp.MustCompile(`^\d{8}_\d{6}_`)
)

// Store keeps media assets and hands out time-limited links to them.
type Store interface {
	Save(ctx context.Context, owner string, kind models.ContentKind, data []byte, mimeType, name string) (string, error)
	Load(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	SignedURL(path string, ttl time.Duration) (string, error)
	Verify(path string, expires int64, signature string) error
}

// FileStore stores blobs under a local root directory.
// Relative paths look like images/<owner>/<uuid>.jpg or
// documents/<owner>/<YYYYMMDD_HHMMSS>_<filename>.
type FileStore struct {
	root    string
	baseURL string
	secret  []byte
	logger  *zap.Logger
	now     func() time.Time
}

func NewFileStore(root, baseURL, secret string, logger *zap.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	if secret == "" {
		return nil, fmt.Errorf("blob signing secret is required")
	}
	return &FileStore{
		root:    abs,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *FileStore) Save(ctx context.Context, owner string, kind models.ContentKind, data []byte, mimeType, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	owner = sanitize(owner)
	if owner == "" {
		return "", fmt.Errorf("owner is required")
	}

	var base string
	if kind == models.KindImage {
		base = uuid.New().String() + path.Ext(sanitize(name))
	} else {
		base = s.now().UTC().Format(stampLayout) + "_" + sanitize(name)
	}

	for attempt := 0; ; attempt++ {
		candidate := base
		if attempt > 0 {
			ext := path.Ext(base)
			candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), attempt, ext)
		}
		rel := path.Join(kind.Dir(), owner, candidate)
		dest, err := s.hostPath(rel)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("create parent dir: %w", err)
		}

		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(dest)
			return "", fmt.Errorf("write file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close file: %w", err)
		}

		s.logger.Debug("Blob stored",
			zap.String("path", rel),
			zap.String("mime_type", mimeType),
			zap.Int("bytes", len(data)))
		return rel, nil
	}
}

func (s *FileStore) Load(ctx context.Context, rel string) ([]byte, error) {
	dest, err := s.hostPath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dest)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, rel string) error {
	dest, err := s.hostPath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// SignedURL returns a link to the media endpoint that stays valid for ttl.
func (s *FileStore) SignedURL(rel string, ttl time.Duration) (string, error) {
	if _, err := s.hostPath(rel); err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("path", rel)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(rel, expires))
	return s.baseURL + "/media?" + q.Encode(), nil
}

func (s *FileStore) Verify(rel string, expires int64, signature string) error {
	if s.now().Unix() > expires {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(rel, expires))) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *FileStore) sign(rel string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(rel))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// hostPath maps a relative blob path onto the filesystem, refusing to leave the root.
func (s *FileStore) hostPath(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}
	joined := filepath.Join(s.root, clean)
	if !strings.HasPrefix(joined, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}
	return joined, nil
}

// FileName recovers the original file name from a stored blob path.
func FileName(rel string) string {
	return stampPrefix.ReplaceAllString(path.Base(rel), "")
}

func sanitize(segment string) string {
	segment = path.Base(strings.ReplaceAll(segment, "\\", "/"))
	if segment == "." || segment == "/" || segment == ".." {
		return ""
	}
	return strings.TrimSpace(unsafeChars.ReplaceAllString(segment, "_"))
}
