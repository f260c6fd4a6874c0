package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xaenox/memo-organizer/internal/models"
	"go.uber.org/zap"
)

var (
	ErrInvalidEnvelope = errors.New("invalid webhook envelope")
	ErrInvalidWorkItem = errors.New("invalid work item")
)

// Enqueuer is the producer side of the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, item models.WorkItem) (string, error)
}

// Result summarises one dispatched envelope.
type Result struct {
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
}

// Dispatcher turns inbound platform events into queued work items. It never
// waits for classification.
type Dispatcher struct {
	queue    Enqueuer
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(queue Enqueuer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// ParseEnvelope decodes and shape-checks a webhook body.
func (d *Dispatcher) ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := d.validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &env, nil
}

// Dispatch enqueues the first message of every change. A change that cannot
// be turned into a work item is logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) Result {
	var res Result
	for _, entry := range env.Entries {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}
			msg := change.Value.Messages[0]

			item, err := d.BuildWorkItem(msg)
			if err == nil {
				_, err = d.Submit(ctx, item)
			}
			if err != nil {
				res.Skipped++
				d.logger.Error("Failed to dispatch message",
					zap.Error(err),
					zap.String("entry_id", entry.ID),
					zap.String("platform_message_id", msg.ID),
					zap.String("type", msg.Type))
				continue
			}
			res.Enqueued++
		}
	}
	return res
}

// BuildWorkItem maps one WhatsApp message onto a work item.
func (d *Dispatcher) BuildWorkItem(msg InboundMessage) (models.WorkItem, error) {
	kind, err := models.ParseContentKind(msg.Type)
	if err != nil {
		return models.WorkItem{}, err
	}

	item := models.WorkItem{
		Source:     models.SourceWhatsApp,
		SenderID:   strings.TrimSpace(msg.From),
		Kind:       kind,
		ReceivedAt: d.receivedAt(msg.Timestamp),
	}

	var body *MediaBody
	switch kind {
	case models.KindText:
		if msg.Text == nil {
			return models.WorkItem{}, fmt.Errorf("%w: text message without body", ErrInvalidWorkItem)
		}
		item.Content = msg.Text.Body
		return item, nil
	case models.KindImage:
		body = msg.Image
	case models.KindDocument:
		body = msg.Document
	case models.KindAudio:
		body = msg.Audio
	}
	if body == nil {
		return models.WorkItem{}, fmt.Errorf("%w: %s message without media", ErrInvalidWorkItem, kind)
	}
	item.Media = &models.MediaRef{
		Handle:   body.ID,
		MimeType: body.MimeType,
		FileName: body.Filename,
	}
	return item, nil
}

// Submit validates item and puts it on the queue. The message ID is
// allocated here unless the caller already owns one, and returned.
func (d *Dispatcher) Submit(ctx context.Context, item models.WorkItem) (string, error) {
	if err := d.check(item); err != nil {
		return "", err
	}
	if item.MessageID == "" {
		item.MessageID = uuid.NewString()
	}
	if item.ReceivedAt.IsZero() {
		item.ReceivedAt = d.now()
	}

	id, err := d.queue.Enqueue(ctx, item)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue work item: %w", err)
	}

	d.logger.Debug("Work item queued",
		zap.String("delivery_id", id),
		zap.String("message_id", item.MessageID),
		zap.String("source", string(item.Source)),
		zap.String("sender_id", item.SenderID),
		zap.String("kind", string(item.Kind)))
	return item.MessageID, nil
}

func (d *Dispatcher) check(item models.WorkItem) error {
	if err := d.validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWorkItem, err)
	}
	kind, err := models.ParseContentKind(string(item.Kind))
	if err != nil {
		return err
	}
	switch kind {
	case models.KindText:
		if strings.TrimSpace(item.Content) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidWorkItem)
		}
	default:
		if item.Media == nil && item.Content == "" {
			return fmt.Errorf("%w: %s item needs a media handle or descriptor", ErrInvalidWorkItem, kind)
		}
	}
	return nil
}

func (d *Dispatcher) receivedAt(ts string) time.Time {
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return d.now()
}
