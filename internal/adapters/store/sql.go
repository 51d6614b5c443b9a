package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver ("pgx")
	_ "github.com/mattn/go-sqlite3"    // SQLite driver ("sqlite3")

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

// Dialect selects driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMemory   Dialect = "memory"
)

// SQLStore implements ports.Store on database/sql.
// Idempotence rests on the (conversation_id, message_offset) primary key
// and on Rebuild running in one transaction, not on process-level locks.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open returns the store for driver, which is one of the Dialect values.
func Open(ctx context.Context, driver, dsn string) (ports.Store, error) {
	switch Dialect(driver) {
	case DialectMemory:
		return NewMemoryStore(), nil
	case DialectSQLite, "":
		return NewSQLiteStore(ctx, dsn)
	case DialectPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = "./data/ragrelay.db"
	}

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL lets readers run beside the single writer. Write transactions take
	// the lock at BEGIN so concurrent ones queue on the busy timeout instead
	// of failing on lock upgrade.
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return newSQLStore(ctx, db, DialectSQLite)
}

// NewPostgresStore connects to Postgres through the pgx stdlib driver.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newSQLStore(ctx, db, DialectPostgres)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	store := &SQLStore{db: db, dialect: dialect}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return store, nil
}

// schema is portable between SQLite and Postgres; statements run one at a time.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		owner_id TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS transcript (
		conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		message_offset INTEGER NOT NULL,
		created_at BIGINT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		documents TEXT NOT NULL,
		rewritten TEXT,
		fetched_new_documents BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (conversation_id, message_offset)
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		conversation_id TEXT NOT NULL,
		message_offset INTEGER NOT NULL,
		is_positive BOOLEAN NOT NULL,
		comment TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		FOREIGN KEY (conversation_id, message_offset)
			REFERENCES transcript (conversation_id, message_offset) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_conversation ON feedback (conversation_id, message_offset)`,
}

// initSchema creates the necessary tables.
func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Migrate re-runs the idempotent schema creation.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.initSchema(ctx)
}

// rebind rewrites '?' placeholders to '$n' for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

const insertRecord = `
	INSERT INTO transcript (conversation_id, message_offset, created_at, role, text, documents, rewritten, fetched_new_documents)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func recordArgs(rec entities.TranscriptRecord) ([]any, error) {
	docs := rec.Documents
	if docs == nil {
		docs = []json.RawMessage{}
	}
	docsJSON, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("encoding documents: %w", err)
	}
	var rewritten sql.NullString
	if rec.Rewritten != nil {
		rewritten = sql.NullString{String: *rec.Rewritten, Valid: true}
	}
	return []any{
		rec.ConversationID,
		rec.Offset,
		rec.CreatedAt.UnixMilli(),
		string(rec.Role),
		rec.Text,
		string(docsJSON),
		rewritten,
		rec.FetchedNewDocuments,
	}, nil
}

// Append inserts rec; an existing (conversation_id, message_offset) is a no-op.
func (s *SQLStore) Append(ctx context.Context, rec entities.TranscriptRecord) (bool, error) {
	args, err := recordArgs(rec)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		s.rebind(insertRecord+` ON CONFLICT (conversation_id, message_offset) DO NOTHING`),
		args...)
	if err != nil {
		return false, fmt.Errorf("inserting record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

// Rebuild deletes the conversation's records (and their feedback) and
// inserts recs, all in one transaction.
func (s *SQLStore) Rebuild(ctx context.Context, conversationID string, recs []entities.TranscriptRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM feedback WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("deleting feedback: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM transcript WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(insertRecord))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		rec.ConversationID = conversationID
		args, err := recordArgs(rec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting offset %d: %w", rec.Offset, err)
		}
	}

	return tx.Commit()
}

// Read returns the records ordered by offset.
func (s *SQLStore) Read(ctx context.Context, conversationID string) ([]entities.TranscriptRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT conversation_id, message_offset, created_at, role, text, documents, rewritten, fetched_new_documents
		FROM transcript
		WHERE conversation_id = ?
		ORDER BY message_offset ASC
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []entities.TranscriptRecord
	for rows.Next() {
		var (
			rec       entities.TranscriptRecord
			createdAt int64
			role      string
			docsJSON  string
			rewritten sql.NullString
		)
		if err := rows.Scan(&rec.ConversationID, &rec.Offset, &createdAt, &role, &rec.Text, &docsJSON, &rewritten, &rec.FetchedNewDocuments); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		rec.Role = entities.Role(role)
		rec.CreatedAt = time.UnixMilli(createdAt)
		if rewritten.Valid {
			rec.Rewritten = &rewritten.String
		}
		if err := json.Unmarshal([]byte(docsJSON), &rec.Documents); err != nil {
			return nil, fmt.Errorf("decoding documents at offset %d: %w", rec.Offset, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountRecords returns the number of stored records.
func (s *SQLStore) CountRecords(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM transcript WHERE conversation_id = ?`), conversationID).Scan(&count)
	return count, err
}

// CreateConversation inserts conv; an existing id is left untouched.
func (s *SQLStore) CreateConversation(ctx context.Context, conv entities.Conversation) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (id, title, created_at, owner_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), conv.ID, conv.Title, conv.CreatedAt.UnixMilli(), conv.OwnerID)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation returns entities.ErrConversationNotFound for unknown ids.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*entities.Conversation, error) {
	var (
		conv      entities.Conversation
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, title, created_at, owner_id FROM conversations WHERE id = ?
	`), id).Scan(&conv.ID, &conv.Title, &createdAt, &conv.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entities.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(createdAt)
	return &conv, nil
}

// ListConversations returns the owner's newest conversations first.
func (s *SQLStore) ListConversations(ctx context.Context, ownerID string, limit int) ([]entities.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, title, created_at, owner_id
		FROM conversations
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []entities.Conversation
	for rows.Next() {
		var (
			conv      entities.Conversation
			createdAt int64
		)
		if err := rows.Scan(&conv.ID, &conv.Title, &createdAt, &conv.OwnerID); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		conv.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, conv)
	}
	return out, rows.Err()
}

// DeleteConversation removes feedback, transcript and header in one transaction.
// The explicit deletes do not depend on foreign key enforcement being enabled.
func (s *SQLStore) DeleteConversation(ctx context.Context, id, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT owner_id FROM conversations WHERE id = ?`), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != ownerID) {
		return entities.ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}

	for _, q := range []string{
		`DELETE FROM feedback WHERE conversation_id = ?`,
		`DELETE FROM transcript WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), id); err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
	}
	return tx.Commit()
}

// AddFeedback stores fb. The rated record must exist.
func (s *SQLStore) AddFeedback(ctx context.Context, fb entities.FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO feedback (conversation_id, message_offset, is_positive, comment, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), fb.ConversationID, fb.Offset, fb.IsPositive, fb.Comment, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return nil
}

// ListFeedback returns the feedback of one conversation by offset.
func (s *SQLStore) ListFeedback(ctx context.Context, conversationID string) ([]entities.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT conversation_id, message_offset, is_positive, comment
		FROM feedback
		WHERE conversation_id = ?
		ORDER BY message_offset ASC, created_at ASC
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	out := []entities.FeedbackRecord{}
	for rows.Next() {
		var fb entities.FeedbackRecord
		if err := rows.Scan(&fb.ConversationID, &fb.Offset, &fb.IsPositive, &fb.Comment); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// ListFeedbackByOwner joins feedback with the rated answer and the closest
// preceding user question.
func (s *SQLStore) ListFeedbackByOwner(ctx context.Context, ownerID string) ([]entities.FeedbackView, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT
			f.conversation_id,
			f.message_offset,
			f.is_positive,
			f.comment,
			c.title,
			COALESCE(am.text, ''),
			COALESCE(am.documents, '[]'),
			COALESCE((
				SELECT qm.text FROM transcript qm
				WHERE qm.conversation_id = f.conversation_id
					AND qm.role = 'user'
					AND qm.message_offset < f.message_offset
				ORDER BY qm.message_offset DESC
				LIMIT 1
			), '')
		FROM feedback f
		JOIN conversations c ON c.id = f.conversation_id AND c.owner_id = ?
		LEFT JOIN transcript am ON am.conversation_id = f.conversation_id AND am.message_offset = f.message_offset
		ORDER BY c.created_at DESC, f.message_offset DESC
	`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var out []entities.FeedbackView
	for rows.Next() {
		var (
			v        entities.FeedbackView
			docsJSON string
		)
		if err := rows.Scan(&v.ConversationID, &v.Offset, &v.IsPositive, &v.Comment,
			&v.ConversationTitle, &v.Answer, &docsJSON, &v.Question); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(docsJSON), &v.Documents); err != nil {
			return nil, fmt.Errorf("decoding documents: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
