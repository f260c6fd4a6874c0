package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/memo-organizer/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

const uniqueViolation = "23505"

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	s.logger.Info("Database schema initialized")
	return nil
}

const messageColumns = `id, created_at, owner, kind, content, category, subcategory, content_type, purpose, processed`

func (s *PostgresStorage) EnsureMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, createdAt, msg.Owner, string(msg.Kind), msg.Content,
		msg.Category, msg.Subcategory, msg.ContentType, msg.Purpose, msg.Processed)
	if err != nil {
		return nil, fmt.Errorf("error inserting message: %w", err)
	}

	return s.GetMessage(ctx, msg.ID)
}

func (s *PostgresStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning message: %w", err)
	}

	list := []models.Message{*msg}
	if err := s.loadRelations(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *PostgresStorage) UpdateMessage(ctx context.Context, msg *models.Message) error {
	query := `
		UPDATE messages
		SET content = $2, category = $3, subcategory = $4, content_type = $5, purpose = $6, processed = $7
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Content, msg.Category, msg.Subcategory, msg.ContentType, msg.Purpose, msg.Processed)
	if err != nil {
		return fmt.Errorf("error updating message: %w", err)
	}
	return expectAffected(res, "message "+msg.ID)
}

func (s *PostgresStorage) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting message: %w", err)
	}
	return expectAffected(res, "message "+id)
}

func (s *PostgresStorage) ListMessages(ctx context.Context, owner string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ($1::text = '' OR owner = $1) ORDER BY created_at, id`
	return s.queryMessages(ctx, query, owner)
}

func (s *PostgresStorage) SearchMessages(ctx context.Context, owner, query string) ([]models.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM messages
		WHERE ($1::text = '' OR owner = $1) AND content ILIKE '%' || $2 || '%'
		ORDER BY created_at, id`
	return s.queryMessages(ctx, q, owner, escapeLike(query))
}

func (s *PostgresStorage) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT category FROM messages
		WHERE category <> '' AND category <> $1
		ORDER BY category`, models.CategoryOtherFiles)
	if err != nil {
		return nil, fmt.Errorf("error querying categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("error scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *PostgresStorage) GetOwnerMetadata(ctx context.Context, owner string) (*models.OwnerMetadata, error) {
	meta := &models.OwnerMetadata{Owner: owner, Categories: []string{}, Tags: []string{}}

	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(created_at),
		       COALESCE(ARRAY_AGG(DISTINCT category) FILTER (WHERE category <> ''), '{}')
		FROM messages WHERE owner = $1`, owner).
		Scan(&meta.Messages, &last, pq.Array(&meta.Categories))
	if err != nil {
		return nil, fmt.Errorf("error querying owner metadata: %w", err)
	}
	if last.Valid {
		meta.LastMessageAt = last.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT t.name FROM tags t
		JOIN message_tags mt ON mt.tag_id = t.id
		JOIN messages m ON m.id = mt.message_id
		WHERE m.owner = $1
		ORDER BY t.name`, owner)
	if err != nil {
		return nil, fmt.Errorf("error querying owner tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error scanning tag: %w", err)
		}
		meta.Tags = append(meta.Tags, name)
	}
	sort.Strings(meta.Categories)
	return meta, rows.Err()
}

func (s *PostgresStorage) FindTagByName(ctx context.Context, name string) (*models.Tag, error) {
	tag := &models.Tag{}
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name = $1`, name).Scan(&tag.ID, &tag.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStorage) CreateTag(ctx context.Context, name string) (*models.Tag, error) {
	tag := &models.Tag{ID: uuid.New().String(), Name: name}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tags (id, name) VALUES ($1, $2)`, tag.ID, tag.Name)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("tag %q: %w", name, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStorage) AttachTag(ctx context.Context, messageID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_tags (message_id, tag_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, messageID, tagID)
	if err != nil {
		return fmt.Errorf("error attaching tag: %w", err)
	}
	return nil
}

func (s *PostgresStorage) DetachTags(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_tags WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("error detaching tags: %w", err)
	}
	return nil
}

func (s *PostgresStorage) FindNextStep(ctx context.Context, name, messageID string) (*models.NextStep, error) {
	step := &models.NextStep{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, message_id FROM next_steps
		WHERE name = $1 AND ($2::text = '' OR message_id = $2)
		ORDER BY created_at LIMIT 1`, name, messageID).
		Scan(&step.ID, &step.Name, &step.MessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("next step %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying next step: %w", err)
	}
	return step, nil
}

func (s *PostgresStorage) CreateNextStep(ctx context.Context, name, messageID string) (*models.NextStep, error) {
	step := &models.NextStep{ID: uuid.New().String(), Name: name, MessageID: messageID}
	_, err := s.db.ExecContext(ctx, `INSERT INTO next_steps (id, name, message_id) VALUES ($1, $2, $3)`,
		step.ID, step.Name, step.MessageID)
	if err != nil {
		return nil, fmt.Errorf("error creating next step: %w", err)
	}
	return step, nil
}

func (s *PostgresStorage) AssignNextStep(ctx context.Context, stepID, messageID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE next_steps SET message_id = $2 WHERE id = $1`, stepID, messageID)
	if err != nil {
		return fmt.Errorf("error assigning next step: %w", err)
	}
	return expectAffected(res, "next step "+stepID)
}

func (s *PostgresStorage) DeleteNextSteps(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM next_steps WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("error deleting next steps: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadRelations(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// loadRelations fills Tags and NextSteps for a batch with two queries.
func (s *PostgresStorage) loadRelations(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	index := make(map[string]int, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
		index[messages[i].ID] = i
		messages[i].Tags = []models.Tag{}
		messages[i].NextSteps = []models.NextStep{}
	}

	tagRows, err := s.db.QueryContext(ctx, `
		SELECT mt.message_id, t.id, t.name FROM message_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE mt.message_id = ANY($1)
		ORDER BY mt.attached_at, t.name`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("error querying message tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var messageID string
		var tag models.Tag
		if err := tagRows.Scan(&messageID, &tag.ID, &tag.Name); err != nil {
			return fmt.Errorf("error scanning message tag: %w", err)
		}
		i := index[messageID]
		messages[i].Tags = append(messages[i].Tags, tag)
	}
	if err := tagRows.Err(); err != nil {
		return err
	}

	stepRows, err := s.db.QueryContext(ctx, `
		SELECT id, name, message_id FROM next_steps
		WHERE message_id = ANY($1)
		ORDER BY created_at`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("error querying next steps: %w", err)
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var step models.NextStep
		if err := stepRows.Scan(&step.ID, &step.Name, &step.MessageID); err != nil {
			return fmt.Errorf("error scanning next step: %w", err)
		}
		i := index[step.MessageID]
		messages[i].NextSteps = append(messages[i].NextSteps, step)
	}
	return stepRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var kind string
	err := row.Scan(
		&msg.ID,
		&msg.CreatedAt,
		&msg.Owner,
		&kind,
		&msg.Content,
		&msg.Category,
		&msg.Subcategory,
		&msg.ContentType,
		&msg.Purpose,
		&msg.Processed,
	)
	if err != nil {
		return nil, err
	}
	msg.Kind = models.ContentKind(kind)
	return msg, nil
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
