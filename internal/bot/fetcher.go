package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/memo-organizer/internal/media"
	"go.uber.org/zap"
)

// TelegramFetcher downloads Telegram files in two hops: getFile resolves
// the file id to a path, then the file endpoint serves the bytes. The
// token passed to Fetch is the bot token embedded in the file URL.
type TelegramFetcher struct {
	api          *tgbotapi.BotAPI
	client       *http.Client
	fileEndpoint string
	maxBytes     int64
	logger       *zap.Logger
}

func NewTelegramFetcher(api *tgbotapi.BotAPI, fileEndpoint string, maxBytes int64, logger *zap.Logger) *TelegramFetcher {
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}
	if maxBytes <= 0 {
		maxBytes = media.MaxAssetBytes
	}
	return &TelegramFetcher{
		api:          api,
		client:       &http.Client{Timeout: 60 * time.Second},
		fileEndpoint: fileEndpoint,
		maxBytes:     maxBytes,
		logger:       logger,
	}
}

func (f *TelegramFetcher) Fetch(ctx context.Context, handle, token string) ([]byte, error) {
	file, err := f.api.GetFile(tgbotapi.FileConfig{FileID: handle})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve telegram file %s: %w", handle, err)
	}
	if file.FileSize > 0 && int64(file.FileSize) > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes announced", media.ErrAssetTooLarge, file.FileSize)
	}

	data, err := media.Download(ctx, f.client, fmt.Sprintf(f.fileEndpoint, token, file.FilePath), "", f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to download telegram file %s: %w", handle, err)
	}
	if file.FileSize > 0 && len(data) != file.FileSize {
		return nil, fmt.Errorf("%w: got %d of %d bytes", media.ErrIncompleteDownload, len(data), file.FileSize)
	}

	f.logger.Debug("Telegram file downloaded",
		zap.String("file_id", handle),
		zap.String("file_path", file.FilePath),
		zap.Int("bytes", len(data)))
	return data, nil
}
