package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/xaenox/memo-organizer/internal/blobstore"
	"github.com/xaenox/memo-organizer/internal/classifier"
	"github.com/xaenox/memo-organizer/internal/media"
	"github.com/xaenox/memo-organizer/internal/models"
	"github.com/xaenox/memo-organizer/internal/queue"
	"github.com/xaenox/memo-organizer/internal/storage"
	"github.com/xaenox/memo-organizer/internal/tagging"
	"go.uber.org/zap"
)

// Supplementer returns auxiliary page text for a message, or "".
type Supplementer interface {
	Supplement(ctx context.Context, text string) string
}

type Linker interface {
	Link(ctx context.Context, messageID string, tags, nextSteps []string) error
}

// DeliveryUpdater persists changes to an in-flight delivery.
type DeliveryUpdater interface {
	Update(d *queue.Delivery) error
}

// MediaSource pairs a platform fetcher with the credential it needs.
type MediaSource struct {
	Fetcher media.Fetcher
	Token   string
}

type Options struct {
	// AllowedDocumentExtensions lists the document extensions sent to the
	// classifier. Anything else lands in the other files bucket.
	AllowedDocumentExtensions []string
	Sources                   map[models.Source]MediaSource
}

// Worker is the queue consumer that turns work items into classified messages.
type Worker struct {
	store      storage.MessageStorage
	blobs      blobstore.Store
	classifier classifier.Classifier
	resolver   Supplementer
	linker     Linker
	deliveries DeliveryUpdater
	allowed    []string
	sources    map[models.Source]MediaSource
	logger     *zap.Logger
}

func New(
	store storage.MessageStorage,
	blobs blobstore.Store,
	cls classifier.Classifier,
	resolver Supplementer,
	linker Linker,
	deliveries DeliveryUpdater,
	opts Options,
	logger *zap.Logger,
) *Worker {
	allowed := lo.Map(opts.AllowedDocumentExtensions, func(ext string, _ int) string {
		return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	})
	if len(allowed) == 0 {
		allowed = []string{"pdf"}
	}
	return &Worker{
		store:      store,
		blobs:      blobs,
		classifier: cls,
		resolver:   resolver,
		linker:     linker,
		deliveries: deliveries,
		allowed:    allowed,
		sources:    opts.Sources,
		logger:     logger,
	}
}

// asset is a media object held in the blob store.
type asset struct {
	data       []byte
	descriptor media.Descriptor
	name       string
}

// Handle processes one delivery. A returned error leaves the delivery for
// redelivery; errors wrapping queue.ErrPermanent are dead-lettered at once.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) error {
	item := d.Item
	kind, err := models.ParseContentKind(string(item.Kind))
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}

	logger := w.logger.With(
		zap.String("delivery_id", d.ID),
		zap.String("kind", string(kind)),
		zap.String("sender_id", item.SenderID))

	if item.MessageID == "" {
		item.MessageID = d.ID
	}
	msg, err := w.store.EnsureMessage(ctx, &models.Message{
		ID:        item.MessageID,
		CreatedAt: item.ReceivedAt,
		Owner:     item.SenderID,
		Kind:      kind,
		Content:   item.Content,
	})
	if err != nil {
		return fmt.Errorf("failed to insert placeholder: %w", err)
	}
	if d.Item.MessageID != msg.ID {
		d.Item.MessageID = msg.ID
		if err := w.deliveries.Update(d); err != nil {
			return fmt.Errorf("failed to record message id: %w", err)
		}
	}
	logger = logger.With(zap.String("message_id", msg.ID))

	if msg.Processed && !item.Reclassify {
		logger.Debug("Message already processed, skipping")
		return nil
	}
	logger.Debug("Message received")

	var cls models.Classification
	switch kind {
	case models.KindText:
		cls, err = w.processText(ctx, item, msg)
	case models.KindImage:
		cls, err = w.processImage(ctx, d, msg, logger)
	case models.KindDocument:
		cls, err = w.processDocument(ctx, d, msg, logger)
	case models.KindAudio:
		cls, err = w.processAudio(ctx, d, msg, logger)
	}
	if err != nil {
		logger.Error("Failed to process message", zap.Error(err))
		return err
	}

	if err := w.store.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	logger.Info("Message persisted",
		zap.String("category", msg.Category),
		zap.String("subcategory", msg.Subcategory),
		zap.Bool("processed", msg.Processed))

	tags := slices.Concat(cls.Tags, tagging.SplitList(item.TagsText))
	nextSteps := slices.Concat(cls.NextSteps, tagging.SplitList(item.NextStepsText))
	if len(tags) > 0 || len(nextSteps) > 0 {
		if err := w.linker.Link(ctx, msg.ID, tags, nextSteps); err != nil {
			logger.Warn("Tags and next steps partially linked", zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) processText(ctx context.Context, item models.WorkItem, msg *models.Message) (models.Classification, error) {
	supplement := w.resolver.Supplement(ctx, item.Content)

	cls, err := w.classifier.ClassifyText(ctx, item.Content, supplement)
	if err != nil {
		return cls, fmt.Errorf("text classification failed: %w", err)
	}
	msg.Content = item.Content
	apply(msg, cls)
	return cls, nil
}

func (w *Worker) processImage(ctx context.Context, d *queue.Delivery, msg *models.Message, logger *zap.Logger) (models.Classification, error) {
	a, err := w.acquire(ctx, d, msg, logger)
	if err != nil {
		return models.Classification{}, err
	}

	data, mimeType, err := media.NormalizeImage(a.data)
	if err != nil {
		return models.Classification{}, fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}
	logger.Debug("Classifying image", zap.String("mime_type", mimeType), zap.Int("bytes", len(data)))

	cls, err := w.classifier.ClassifyImage(ctx, data, mimeType)
	if err != nil {
		return cls, err
	}
	apply(msg, cls)
	return cls, nil
}

func (w *Worker) processDocument(ctx context.Context, d *queue.Delivery, msg *models.Message, logger *zap.Logger) (models.Classification, error) {
	a, err := w.acquire(ctx, d, msg, logger)
	if err != nil {
		return models.Classification{}, err
	}

	if !lo.Contains(w.allowed, media.Extension(a.name)) {
		logger.Debug("Document type not classified", zap.String("file_name", a.name))
		otherFiles(msg, a.name, models.KindDocument)
		return models.Classification{}, nil
	}

	cls, err := w.classifier.ClassifyDocument(ctx, a.data, a.descriptor.MimeType, a.name)
	if err != nil {
		return cls, err
	}
	apply(msg, cls)
	return cls, nil
}

func (w *Worker) processAudio(ctx context.Context, d *queue.Delivery, msg *models.Message, logger *zap.Logger) (models.Classification, error) {
	a, err := w.acquire(ctx, d, msg, logger)
	if err != nil {
		return models.Classification{}, err
	}
	otherFiles(msg, a.name, models.KindAudio)
	return models.Classification{}, nil
}

// acquire returns the stored asset of a media message. A delivery whose
// content is already a descriptor is served from the blob store; otherwise
// the asset is downloaded, stored and the descriptor is recorded on the
// delivery so a redelivery does not download it again.
func (w *Worker) acquire(ctx context.Context, d *queue.Delivery, msg *models.Message, logger *zap.Logger) (*asset, error) {
	item := d.Item
	if desc, err := media.ParseDescriptor(item.Content); err == nil {
		data, err := w.blobs.Load(ctx, desc.Path)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, fmt.Errorf("%w: %w", queue.ErrPermanent, err)
			}
			return nil, fmt.Errorf("failed to load stored media: %w", err)
		}
		msg.Content = desc.String()
		return &asset{data: data, descriptor: desc, name: displayName(item.Media, desc.Path)}, nil
	}

	if item.Media == nil {
		return nil, fmt.Errorf("%w: %s item has neither media nor descriptor", queue.ErrPermanent, item.Kind)
	}
	source, ok := w.sources[item.Source]
	if !ok || source.Fetcher == nil {
		return nil, fmt.Errorf("%w: no media fetcher for source %q", queue.ErrPermanent, item.Source)
	}

	logger.Debug("Acquiring media", zap.String("handle", item.Media.Handle))
	data, err := source.Fetcher.Fetch(ctx, item.Media.Handle, source.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media %s: %w", item.Media.Handle, err)
	}

	mimeType := media.ResolveMIME(item.Media.MimeType, data)
	name := item.Media.FileName
	if name == "" {
		name = item.Media.Handle
	}
	name = media.EnsureExtension(name, mimeType)

	path, err := w.blobs.Save(ctx, item.SenderID, item.Kind, data, mimeType, name)
	if err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}

	desc := media.NewDescriptor(item.Kind, item.Media.Handle, mimeType, path)
	msg.Content = desc.String()
	d.Item.Content = msg.Content
	if err := w.deliveries.Update(d); err != nil {
		logger.Warn("Failed to record media descriptor on delivery", zap.Error(err))
	}
	return &asset{data: data, descriptor: desc, name: displayName(item.Media, path)}, nil
}

func displayName(ref *models.MediaRef, path string) string {
	if ref != nil && ref.FileName != "" {
		return ref.FileName
	}
	return blobstore.FileName(path)
}

func apply(msg *models.Message, cls models.Classification) {
	msg.Category = cls.Category
	if msg.Category == "" {
		msg.Category = classifier.FallbackCategory
	}
	msg.Subcategory = cls.Subcategory
	msg.ContentType = cls.ContentType
	msg.Purpose = cls.Purpose
	msg.Processed = true
}

func otherFiles(msg *models.Message, name string, kind models.ContentKind) {
	msg.Category = models.CategoryOtherFiles
	msg.Subcategory = name
	msg.ContentType = string(kind)
	msg.Purpose = ""
	msg.Processed = false
}
