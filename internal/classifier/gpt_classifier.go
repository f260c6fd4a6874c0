package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/memo-organizer/internal/models"
	"go.uber.org/zap"
)

// CategorySource lists the categories already in use so the model can reuse them.
type CategorySource interface {
	ListCategories(ctx context.Context) ([]string, error)
}

type GPTConfig struct {
	APIKey       string
	BaseURL      string
	AssistantID  string
	Model        string
	VisionModel  string
	MaxTokens    int
	Temperature  float64
	MaxTags      int
	PollInterval time.Duration
}

// GPTResponse is the JSON object the model is asked to return.
type GPTResponse struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Type        string   `json:"type"`
	Purpose     string   `json:"purpose"`
	Tags        []string `json:"tags"`
	NextSteps   []string `json:"next_steps"`
}

type GPTClassifier struct {
	client       *openai.Client
	assistantID  string
	model        string
	visionModel  string
	maxTokens    int
	temperature  float64
	maxTags      int
	pollInterval time.Duration
	categories   CategorySource
	fallback     *SimpleClassifier
	logger       *zap.Logger
}

func NewGPTClassifier(cfg GPTConfig, categories CategorySource, logger *zap.Logger) *GPTClassifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &GPTClassifier{
		client:       openai.NewClientWithConfig(clientConfig),
		assistantID:  cfg.AssistantID,
		model:        cfg.Model,
		visionModel:  cfg.VisionModel,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		maxTags:      cfg.MaxTags,
		pollInterval: cfg.PollInterval,
		categories:   categories,
		fallback:     NewSimpleClassifier(cfg.MaxTags),
		logger:       logger,
	}
}

// ClassifyText never fails: model errors fall back to keyword classification.
func (c *GPTClassifier) ClassifyText(ctx context.Context, text, supplement string) (models.Classification, error) {
	content := "Content: " + text
	if supplement != "" {
		content += "\n\nLinked page text (use it to infer the purpose): " + supplement
	}

	raw, err := c.complete(ctx, c.model, []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: c.prompt(ctx, "the following message") + "\n\n" + content},
	})
	if err != nil {
		c.logger.Error("Failed to get GPT response", zap.Error(err))
		return c.fallback.ClassifyText(ctx, text, supplement)
	}

	result, err := c.parse(raw)
	if err != nil {
		c.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", raw))
		return c.fallback.ClassifyText(ctx, text, supplement)
	}
	return result, nil
}

func (c *GPTClassifier) ClassifyImage(ctx context.Context, data []byte, mimeType string) (models.Classification, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	raw, err := c.complete(ctx, c.visionModel, []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: c.prompt(ctx, "the attached image")},
		{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
			URL:    dataURL,
			Detail: openai.ImageURLDetailAuto,
		}},
	})
	if err != nil {
		return models.Classification{}, fmt.Errorf("image classification failed: %w", err)
	}
	return c.parse(raw)
}

// ClassifyDocument hands the file to an assistant with file search. Without
// a configured assistant it degrades to the file name heuristics.
func (c *GPTClassifier) ClassifyDocument(ctx context.Context, data []byte, mimeType, fileName string) (models.Classification, error) {
	if c.assistantID == "" {
		c.logger.Debug("No assistant configured, classifying document by name", zap.String("file_name", fileName))
		return c.fallback.ClassifyDocument(ctx, data, mimeType, fileName)
	}

	file, err := c.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    fileName,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return models.Classification{}, fmt.Errorf("failed to upload document: %w", err)
	}
	defer func() {
		if err := c.client.DeleteFile(context.WithoutCancel(ctx), file.ID); err != nil {
			c.logger.Warn("Failed to delete uploaded document", zap.Error(err), zap.String("file_id", file.ID))
		}
	}()

	run, err := c.client.CreateThreadAndRun(ctx, openai.CreateThreadAndRunRequest{
		RunRequest: openai.RunRequest{AssistantID: c.assistantID},
		Thread: openai.ThreadRequest{
			Messages: []openai.ThreadMessage{{
				Role:    openai.ThreadMessageRoleUser,
				Content: c.prompt(ctx, "the attached document"),
				Attachments: []openai.ThreadAttachment{{
					FileID: file.ID,
					Tools:  []openai.ThreadAttachmentTool{{Type: "file_search"}},
				}},
			}},
		},
	})
	if err != nil {
		return models.Classification{}, fmt.Errorf("failed to start document run: %w", err)
	}

	run, err = c.waitForRun(ctx, run)
	if err != nil {
		return models.Classification{}, err
	}

	limit := 1
	order := "desc"
	messages, err := c.client.ListMessage(ctx, run.ThreadID, &limit, &order, nil, nil, &run.ID)
	if err != nil {
		return models.Classification{}, fmt.Errorf("failed to read document run output: %w", err)
	}

	for _, msg := range messages.Messages {
		for _, part := range msg.Content {
			if part.Text != nil && strings.TrimSpace(part.Text.Value) != "" {
				return c.parse(part.Text.Value)
			}
		}
	}
	return models.Classification{}, errors.New("document run produced no text output")
}

func (c *GPTClassifier) waitForRun(ctx context.Context, run openai.Run) (openai.Run, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		switch run.Status {
		case openai.RunStatusCompleted:
			return run, nil
		case openai.RunStatusFailed, openai.RunStatusExpired, openai.RunStatusCancelled,
			openai.RunStatusIncomplete, openai.RunStatusRequiresAction:
			reason := string(run.Status)
			if run.LastError != nil {
				reason += ": " + run.LastError.Message
			}
			return run, fmt.Errorf("document run ended as %s", reason)
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}

		var err error
		run, err = c.client.RetrieveRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			return run, fmt.Errorf("failed to poll document run: %w", err)
		}
	}
}

func (c *GPTClassifier) complete(ctx context.Context, model string, parts []openai.ChatMessagePart) (string, error) {
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:         openai.ChatMessageRoleUser,
					MultiContent: parts,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *GPTClassifier) prompt(ctx context.Context, subject string) string {
	known := ""
	if c.categories != nil {
		categories, err := c.categories.ListCategories(ctx)
		if err != nil {
			c.logger.Warn("Failed to load known categories", zap.Error(err))
		} else if len(categories) > 0 {
			known = fmt.Sprintf("\nExisting categories: %s. Reuse one of them when it fits, otherwise create a new short one.",
				strings.Join(categories, ", "))
		}
	}

	return fmt.Sprintf(`Analyze %s and classify it for a personal knowledge base.
Provide:
- a single main category
- a subcategory within that category
- the content type (for example note, link, receipt, photo, screenshot, invoice)
- the purpose of the content in a few words
- relevant tags (max %d)
- concrete follow-up actions, if any%s

Return the response as a JSON object with this structure:
{
    "category": "main_category",
    "subcategory": "subcategory",
    "type": "content_type",
    "purpose": "purpose",
    "tags": ["tag1", "tag2", ...],
    "next_steps": ["action1", ...]
}`, subject, c.maxTags, known)
}

func (c *GPTClassifier) parse(raw string) (models.Classification, error) {
	result, err := ParseResponse(raw)
	if err != nil {
		return models.Classification{}, err
	}
	if c.maxTags > 0 && len(result.Tags) > c.maxTags {
		result.Tags = result.Tags[:c.maxTags]
	}
	return result, nil
}

// ParseResponse decodes a model reply, tolerating markdown fences and surrounding prose.
func ParseResponse(raw string) (models.Classification, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return models.Classification{}, fmt.Errorf("no JSON object in response")
	}

	var resp GPTResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return models.Classification{}, fmt.Errorf("invalid JSON in response: %w", err)
	}

	category := strings.ToLower(strings.TrimSpace(resp.Category))
	if category == "" {
		return models.Classification{}, fmt.Errorf("response has no category")
	}

	clean := func(items []string) []string {
		out := lo.Compact(lo.Map(items, func(s string, _ int) string { return strings.TrimSpace(s) }))
		return lo.Uniq(out)
	}

	return models.Classification{
		Category:    category,
		Subcategory: strings.ToLower(strings.TrimSpace(resp.Subcategory)),
		ContentType: strings.TrimSpace(resp.Type),
		Purpose:     strings.TrimSpace(resp.Purpose),
		Tags:        clean(lo.Map(resp.Tags, func(s string, _ int) string { return strings.ToLower(s) })),
		NextSteps:   clean(resp.NextSteps),
	}, nil
}
