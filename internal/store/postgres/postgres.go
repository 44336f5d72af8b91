// Package postgres implements the Message Store Facade on Postgres via
// jackc/pgx/v5, for multi-instance deployments (spec §4.D backend 2).
// Schema migrations live under ./migrations and are applied with
// golang-migrate/migrate/v4 (see migrate.go).
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store"
)

// Store is a pgxpool-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Callers own the pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against dsn. Callers must Close() the returned pool.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "parse postgres dsn", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "open postgres pool", err)
	}
	return pool, nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) AppendMessage(ctx context.Context, threadID ids.ID, msgType model.MessageType, content json.RawMessage, isLLM bool, metadata map[string]any) (*model.Message, error) {
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal message metadata", err)
	}

	msg := &model.Message{
		MessageID:    ids.New(),
		ThreadID:     threadID,
		Type:         msgType,
		Content:      content,
		IsLLMMessage: isLLM,
		Metadata:     metadata,
	}

	const q = `INSERT INTO messages (message_id, thread_id, type, content, is_llm_message, metadata, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, now())
	           RETURNING created_at`
	if err := s.pool.QueryRow(ctx, q,
		msg.MessageID.String(), threadID.String(), string(msgType), []byte(content), isLLM, metaBytes,
	).Scan(&msg.CreatedAt); err != nil {
		return nil, errs.Wrap(errs.Internal, "append message", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, threadID ids.ID) ([]*model.Message, error) {
	return s.listWhere(ctx, threadID, "")
}

func (s *Store) ListLLMMessages(ctx context.Context, threadID ids.ID) ([]*model.Message, error) {
	return s.listWhere(ctx, threadID, "AND is_llm_message")
}

func (s *Store) listWhere(ctx context.Context, threadID ids.ID, extra string) ([]*model.Message, error) {
	q := `SELECT message_id, thread_id, type, content, is_llm_message, metadata, created_at
	      FROM messages WHERE thread_id = $1 ` + extra + `
	      ORDER BY created_at ASC, message_id ASC`
	rows, err := s.pool.Query(ctx, q, threadID.String())
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list messages", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "scan message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Internal, "list messages", err)
	}
	return out, nil
}

func scanMessage(rows pgx.Rows) (*model.Message, error) {
	var (
		messageID, threadID, typ string
		content, metaBytes       []byte
		isLLM                    bool
		createdAt                time.Time
	)
	if err := rows.Scan(&messageID, &threadID, &typ, &content, &isLLM, &metaBytes, &createdAt); err != nil {
		return nil, err
	}
	var meta map[string]any
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &meta); err != nil {
			return nil, err
		}
	}
	return &model.Message{
		MessageID:    ids.ID(messageID),
		ThreadID:     ids.ID(threadID),
		Type:         model.MessageType(typ),
		Content:      content,
		IsLLMMessage: isLLM,
		Metadata:     meta,
		CreatedAt:    createdAt,
	}, nil
}

func (s *Store) DeleteByType(ctx context.Context, threadID ids.ID, msgType model.MessageType) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE thread_id = $1 AND type = $2`, threadID.String(), string(msgType))
	if err != nil {
		return 0, errs.Wrap(errs.Internal, "delete messages by type", err)
	}
	return int(tag.RowsAffected()), nil
}
