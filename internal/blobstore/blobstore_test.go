package blobstore

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-organizer/internal/models"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), "http://localhost:8080/", "test-secret", zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC) }
	return s
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	s := newTestStore(t)

	rel, err := s.Save(ctx, "15551234", models.KindDocument, []byte("pdf bytes"), "application/pdf", "report.pdf")
	req.NoError(err)
	req.Equal("documents/15551234/20240301_101500_report.pdf", rel)
	req.Equal("report.pdf", FileName(rel))

	data, err := s.Load(ctx, rel)
	req.NoError(err)
	req.Equal([]byte("pdf bytes"), data)

	// same second, same name: the first file is kept
	second, err := s.Save(ctx, "15551234", models.KindDocument, []byte("other"), "application/pdf", "report.pdf")
	req.NoError(err)
	req.Equal("documents/15551234/20240301_101500_report-1.pdf", second)
	data, err = s.Load(ctx, rel)
	req.NoError(err)
	req.Equal([]byte("pdf bytes"), data)

	req.NoError(s.Delete(ctx, rel))
	_, err = s.Load(ctx, rel)
	req.ErrorIs(err, ErrNotFound)
}

func TestFileStoreImagesGetUniqueNames(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newTestStore(t)

	rel, err := s.Save(context.Background(), "alice", models.KindImage, []byte{1, 2, 3}, "image/jpeg", "photo.jpg")
	req.NoError(err)
	req.True(strings.HasPrefix(rel, "images/alice/"))
	req.True(strings.HasSuffix(rel, ".jpg"))
}

func TestFileStoreSanitizesSegments(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newTestStore(t)

	rel, err := s.Save(context.Background(), "../../etc", models.KindAudio, []byte("ogg"), "audio/ogg", "../../voice note.ogg")
	req.NoError(err)
	req.Equal("audios/etc/20240301_101500_voice note.ogg", rel)

	_, err = s.Load(context.Background(), "../outside")
	req.ErrorIs(err, ErrPathTraversal)
}

func TestSignedURLVerification(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	s := newTestStore(t)

	link, err := s.SignedURL("images/alice/a.jpg", time.Hour)
	req.NoError(err)
	req.True(strings.HasPrefix(link, "http://localhost:8080/media?"))

	u, err := url.Parse(link)
	req.NoError(err)
	q := u.Query()
	expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	req.NoError(err)

	req.NoError(s.Verify(q.Get("path"), expires, q.Get("sig")))
	req.ErrorIs(s.Verify("images/alice/b.jpg", expires, q.Get("sig")), ErrInvalidSignature)
	req.ErrorIs(s.Verify(q.Get("path"), expires+1, q.Get("sig")), ErrInvalidSignature)

	s.now = func() time.Time { return time.Unix(expires+1, 0) }
	req.ErrorIs(s.Verify(q.Get("path"), expires, q.Get("sig")), ErrInvalidSignature)
}

func TestFileName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "invoice.pdf", FileName("documents/bob/20231231_235959_invoice.pdf"))
	require.Equal(t, "plain.pdf", FileName("documents/bob/plain.pdf"))
}
