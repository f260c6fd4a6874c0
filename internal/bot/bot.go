package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/memo-organizer/internal/models"
	"github.com/xaenox/memo-organizer/internal/storage"
	"go.uber.org/zap"
)

var ErrUnsupportedMessage = errors.New("unsupported telegram message")

const historySize = 5

// Submitter puts work items on the classification queue.
type Submitter interface {
	Submit(ctx context.Context, item models.WorkItem) (string, error)
}

// Bot feeds Telegram messages into the same pipeline as the WhatsApp webhook
// and answers a few read-only commands.
type Bot struct {
	api        *tgbotapi.BotAPI
	dispatcher Submitter
	storage    storage.MessageStorage
	logger     *zap.Logger
}

func New(api *tgbotapi.BotAPI, dispatcher Submitter, storage storage.MessageStorage, logger *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		dispatcher: dispatcher,
		storage:    storage,
		logger:     logger,
	}
}

// NewAPI connects to the Bot API. An empty endpoint uses Telegram's.
func NewAPI(token, endpoint string) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return api, nil
}

// OwnerID is the owner id under which a Telegram user's messages are stored.
func OwnerID(userID int64) string {
	return "tg-" + strconv.FormatInt(userID, 10)
}

// Start long-polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			b.HandleMessage(ctx, update.Message)
		}
	}
}

// HandleMessage answers commands and queues everything else.
func (b *Bot) HandleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	item, err := BuildWorkItem(message)
	if err != nil {
		b.sendMessage(message.Chat.ID, "Sorry, I can only keep text, photos, documents and audio.")
		return
	}

	messageID, err := b.dispatcher.Submit(ctx, item)
	if err != nil {
		b.logger.Error("Failed to queue message",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your message. Please try again.")
		return
	}

	b.logger.Debug("Telegram message queued",
		zap.String("message_id", messageID),
		zap.Int64("user_id", message.From.ID),
		zap.String("kind", string(item.Kind)))
	b.reply(message.Chat.ID, message.MessageID, "Saved. I'll sort it into a category shortly.")
}

// BuildWorkItem maps a Telegram message onto a work item. Captions on media
// are read as comma separated tags.
func BuildWorkItem(message *tgbotapi.Message) (models.WorkItem, error) {
	item := models.WorkItem{
		Source:     models.SourceTelegram,
		SenderID:   OwnerID(message.From.ID),
		ReceivedAt: time.Unix(int64(message.Date), 0).UTC(),
		TagsText:   message.Caption,
	}

	switch {
	case len(message.Photo) > 0:
		// sizes are ordered smallest first
		photo := message.Photo[len(message.Photo)-1]
		item.Kind = models.KindImage
		item.Media = &models.MediaRef{Handle: photo.FileID, MimeType: "image/jpeg"}
	case message.Document != nil:
		item.Kind = models.KindDocument
		item.Media = &models.MediaRef{
			Handle:   message.Document.FileID,
			MimeType: message.Document.MimeType,
			FileName: message.Document.FileName,
		}
	case message.Audio != nil:
		item.Kind = models.KindAudio
		item.Media = &models.MediaRef{
			Handle:   message.Audio.FileID,
			MimeType: message.Audio.MimeType,
			FileName: message.Audio.FileName,
		}
	case message.Voice != nil:
		item.Kind = models.KindAudio
		item.Media = &models.MediaRef{Handle: message.Voice.FileID, MimeType: message.Voice.MimeType}
	case strings.TrimSpace(message.Text) != "":
		item.Kind = models.KindText
		item.Content = message.Text
		item.TagsText = ""
	default:
		return models.WorkItem{}, ErrUnsupportedMessage
	}
	return item, nil
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "tags":
		b.handleTags(ctx, message)
	case "categories":
		b.handleCategories(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to Memo Organizer!
Send me notes, links, photos, documents or voice messages and I'll file them by category, with tags and follow-up steps.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/tags - Show your tags
/categories - Show your categories
/history - Show your latest messages

You can send:
- Text messages and links
- Photos (a caption is read as comma separated tags)
- Documents (PDFs are classified, other files are kept as they are)
- Audio and voice messages`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleTags(ctx context.Context, message *tgbotapi.Message) {
	metadata, ok := b.metadata(ctx, message, "tags")
	if !ok {
		return
	}
	if len(metadata.Tags) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any tags yet.")
		return
	}
	b.sendMarkdown(message.Chat.ID, hashtagList("Your tags:", metadata.Tags))
}

func (b *Bot) handleCategories(ctx context.Context, message *tgbotapi.Message) {
	metadata, ok := b.metadata(ctx, message, "categories")
	if !ok {
		return
	}
	if len(metadata.Categories) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any categories yet.")
		return
	}
	b.sendMarkdown(message.Chat.ID, hashtagList("Your categories:", metadata.Categories))
}

func (b *Bot) metadata(ctx context.Context, message *tgbotapi.Message, what string) (*models.OwnerMetadata, bool) {
	metadata, err := b.storage.GetOwnerMetadata(ctx, OwnerID(message.From.ID))
	if err != nil {
		b.logger.Error("Failed to get owner metadata",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Sorry, failed to retrieve your %s. Please try again later.", what))
		return nil, false
	}
	return metadata, true
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	messages, err := b.storage.ListMessages(ctx, OwnerID(message.From.ID))
	if err != nil {
		b.logger.Error("Failed to get owner messages",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}
	if len(messages) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}
	if len(messages) > historySize {
		messages = messages[len(messages)-historySize:]
	}

	var sb strings.Builder
	sb.WriteString("*Your recent messages:*\n\n")
	for _, msg := range messages {
		category := msg.Category
		if category == "" {
			category = "pending"
		}
		fmt.Fprintf(&sb, "*%s*\n", escapeMarkdown(category))
		fmt.Fprintf(&sb, "_%s_\n", escapeMarkdown(msg.Content))
		if names := msg.TagNames(); len(names) > 0 {
			tags := make([]string, len(names))
			for i, tag := range names {
				tags[i] = escapeMarkdown(hashtag(tag))
			}
			fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(tags, " "))
		}
		sb.WriteString("\n")
	}
	b.sendMarkdown(message.Chat.ID, sb.String())
}

func hashtag(s string) string {
	return "#" + strings.ReplaceAll(s, " ", "_")
}

func hashtagList(title string, items []string) string {
	response := "*" + escapeMarkdown(title) + "*\n"
	for _, item := range items {
		response += escapeMarkdown(hashtag(item)) + "\n"
	}
	return response
}

// escapeMarkdown escapes the characters MarkdownV2 treats as markup.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) reply(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToID
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
