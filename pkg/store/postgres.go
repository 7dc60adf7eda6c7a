package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
)

// Schema is the durable record layout. The column set is the stable history
// contract; seq is additive metadata assigned at insert time.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	seq           BIGSERIAL PRIMARY KEY,
	room          TEXT NOT NULL,
	sender        TEXT NOT NULL,
	sender_type   TEXT NOT NULL,
	receiver      TEXT NOT NULL,
	receiver_type TEXT NOT NULL,
	message       TEXT NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_room_seq ON chat_messages (room, seq);
`

// PostgresLog is the production Log on PostgreSQL. Appends rely on the
// pipeline's per-room serialization, so BIGSERIAL seq values follow append
// order within every room.
type PostgresLog struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	allStmt    *sql.Stmt
	afterStmt  *sql.Stmt
	latestStmt *sql.Stmt
	beforeStmt *sql.Stmt
}

const selectColumns = "seq, sender, sender_type, receiver, receiver_type, message, timestamp"

// NewPostgresLog ensures the schema exists and prepares the query statements.
func NewPostgresLog(ctx context.Context, db *sql.DB) (*PostgresLog, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("ensure chat_messages schema: %w", err)
	}

	l := &PostgresLog{db: db}
	for _, p := range []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&l.insertStmt, `INSERT INTO chat_messages (room, sender, sender_type, receiver, receiver_type, message, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING seq`},
		{&l.allStmt, `SELECT ` + selectColumns + ` FROM chat_messages WHERE room = $1 ORDER BY seq ASC`},
		{&l.afterStmt, `SELECT ` + selectColumns + ` FROM chat_messages WHERE room = $1 AND seq > $2 ORDER BY seq ASC`},
		{&l.latestStmt, `SELECT ` + selectColumns + ` FROM chat_messages WHERE room = $1 ORDER BY seq DESC LIMIT $2`},
		{&l.beforeStmt, `SELECT ` + selectColumns + ` FROM chat_messages WHERE room = $1 AND seq < $2 ORDER BY seq DESC LIMIT $3`},
	} {
		stmt, err := db.PrepareContext(ctx, p.sql)
		if err != nil {
			return nil, fmt.Errorf("prepare statement: %w", err)
		}
		*p.stmt = stmt
	}
	return l, nil
}

// Close releases the prepared statements. The *sql.DB stays owned by the
// caller.
func (l *PostgresLog) Close() error {
	for _, stmt := range []*sql.Stmt{l.insertStmt, l.allStmt, l.afterStmt, l.latestStmt, l.beforeStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

// Append inserts the message and returns it with the assigned seq.
func (l *PostgresLog) Append(ctx context.Context, room chat.RoomKey, msg chat.Message) (chat.Message, error) {
	err := l.insertStmt.QueryRowContext(ctx,
		string(room), msg.Sender, string(msg.SenderType), msg.Receiver, string(msg.ReceiverType), msg.Body, msg.Timestamp,
	).Scan(&msg.Seq)
	if err != nil {
		return chat.Message{}, fmt.Errorf("append message for room %s: %w", room, err)
	}
	return msg, nil
}

// History returns the selected slice of the room's log, ascending by seq.
func (l *PostgresLog) History(ctx context.Context, room chat.RoomKey, q Query) ([]chat.Message, bool, error) {
	switch {
	case q.After > 0:
		msgs, err := l.scan(l.afterStmt.QueryContext(ctx, string(room), q.After))
		if err != nil {
			return nil, false, err
		}
		hasMore := false
		if q.Limit > 0 && len(msgs) > q.Limit {
			msgs, hasMore = msgs[:q.Limit], true
		}
		return msgs, hasMore, nil

	case q.Limit > 0:
		// Fetch Limit+1 newest-first rows to detect hasMore without a COUNT,
		// then reverse to chronological order.
		var msgs []chat.Message
		var err error
		if q.Before > 0 {
			msgs, err = l.scan(l.beforeStmt.QueryContext(ctx, string(room), q.Before, q.Limit+1))
		} else {
			msgs, err = l.scan(l.latestStmt.QueryContext(ctx, string(room), q.Limit+1))
		}
		if err != nil {
			return nil, false, err
		}
		hasMore := len(msgs) > q.Limit
		if hasMore {
			msgs = msgs[:q.Limit]
		}
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		return msgs, hasMore, nil

	default:
		msgs, err := l.scan(l.allStmt.QueryContext(ctx, string(room)))
		return msgs, false, err
	}
}

func (l *PostgresLog) scan(rows *sql.Rows, err error) ([]chat.Message, error) {
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var senderType, receiverType string
		if err := rows.Scan(&m.Seq, &m.Sender, &senderType, &m.Receiver, &receiverType, &m.Body, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.SenderType = chat.Role(senderType)
		m.ReceiverType = chat.Role(receiverType)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return msgs, nil
}
