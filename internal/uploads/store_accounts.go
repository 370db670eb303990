package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is the subset of an account the lifecycle jobs need.
type User struct {
	ID                int64
	Email             string
	Lang              string
	Suspended         bool
	ToBeDeleted       bool
	DeleteRequestDate time.Time
	TokenIssuedAt     time.Time
	CreatedAt         time.Time
}

// NewUser describes an account to insert.
type NewUser struct {
	Email             string
	Lang              string
	Suspended         bool
	ToBeDeleted       bool
	DeleteRequestDate time.Time
	TokenIssuedAt     time.Time
}

// AttachmentKind names one of the tables that reference uploads.
type AttachmentKind string

const (
	AttachBio     AttachmentKind = "bio"
	AttachPost    AttachmentKind = "post"
	AttachComment AttachmentKind = "comment"
	AttachMessage AttachmentKind = "message"
)

func (k AttachmentKind) table() (string, string, error) {
	switch k {
	case AttachBio:
		return "bio_attachments", "user_id", nil
	case AttachPost:
		return "post_attachments", "post_id", nil
	case AttachComment:
		return "comment_attachments", "comment_id", nil
	case AttachMessage:
		return "message_attachments", "message_id", nil
	default:
		return "", "", fmt.Errorf("unknown attachment kind %q", k)
	}
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// InsertUser creates an account row.
func (s *Store) InsertUser(ctx context.Context, in NewUser) (int64, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return 0, errors.New("email is required")
	}
	lang := strings.TrimSpace(in.Lang)
	if lang == "" {
		lang = "en"
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO users (email, lang, is_suspended, is_tobedeleted, delete_request_date, token_issued_at, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		email, lang, boolToInt(in.Suspended), boolToInt(in.ToBeDeleted),
		nullableTime(in.DeleteRequestDate), nullableTime(in.TokenIssuedAt), s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

// GetUser fetches an account by id. Missing accounts return ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var (
		user        User
		suspended   int
		tobedeleted int
		requested   sql.NullString
		issued      sql.NullString
		created     string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, email, lang, is_suspended, is_tobedeleted, delete_request_date, token_issued_at, created_at
         FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.Lang, &suspended, &tobedeleted, &requested, &issued, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	user.Suspended = suspended != 0
	user.ToBeDeleted = tobedeleted != 0
	user.DeleteRequestDate = parseTimeString(requested.String)
	user.TokenIssuedAt = parseTimeString(issued.String)
	user.CreatedAt = parseTimeString(created)
	return &user, nil
}

// InsertPost creates a post authored by authorID.
func (s *Store) InsertPost(ctx context.Context, authorID int64) (int64, error) {
	return s.insertReturningID(ctx, "INSERT INTO posts (author_id, created_at) VALUES (?, ?)", authorID, s.timestamp())
}

// InsertComment creates a comment on a post.
func (s *Store) InsertComment(ctx context.Context, postID, authorID int64) (int64, error) {
	return s.insertReturningID(ctx, "INSERT INTO comments (post_id, author_id, created_at) VALUES (?, ?, ?)", postID, authorID, s.timestamp())
}

// InsertThread creates a conversation with the given members.
func (s *Store) InsertThread(ctx context.Context, members ...int64) (int64, error) {
	var threadID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO threads (created_at) VALUES (?)", s.timestamp())
		if err != nil {
			return err
		}
		threadID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, member := range members {
			if _, err := tx.ExecContext(ctx, "INSERT INTO thread_users (thread_id, user_id) VALUES (?, ?)", threadID, member); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert thread: %w", err)
	}
	return threadID, nil
}

// InsertMessage creates a message in a thread.
func (s *Store) InsertMessage(ctx context.Context, threadID, senderID int64) (int64, error) {
	return s.insertReturningID(ctx, "INSERT INTO messages (thread_id, sender_id, created_at) VALUES (?, ?, ?)", threadID, senderID, s.timestamp())
}

// InsertReaction records a reaction to a message.
func (s *Store) InsertReaction(ctx context.Context, messageID, userID int64, emoji string) (int64, error) {
	return s.insertReturningID(ctx, "INSERT INTO message_reactions (message_id, user_id, emoji) VALUES (?, ?, ?)", messageID, userID, emoji)
}

// Attach links an upload to an owning row of the given kind.
func (s *Store) Attach(ctx context.Context, kind AttachmentKind, ownerID, uploadID int64) error {
	table, column, err := kind.table()
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, file_upload_id) VALUES (?, ?)", table, column),
		ownerID, uploadID)
	if err != nil {
		if strings.Contains(err.Error(), ErrPurging.Error()) {
			err = ErrPurging
		}
		return fmt.Errorf("attach upload %d: %w", uploadID, err)
	}
	return nil
}

// ThreadExists reports whether a thread row is present.
func (s *Store) ThreadExists(ctx context.Context, id int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx), "SELECT COUNT(1) FROM threads WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("check thread: %w", err)
	}
	return count > 0, nil
}

// DeleteSparseThreads removes conversations with fewer than two members.
func (s *Store) DeleteSparseThreads(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM threads WHERE id NOT IN (
             SELECT thread_id FROM thread_users GROUP BY thread_id HAVING COUNT(user_id) >= 2
         )`)
	if err != nil {
		return 0, fmt.Errorf("delete sparse threads: %w", err)
	}
	return res.RowsAffected()
}

// ListPurgeableAccounts returns ids of suspended accounts flagged for
// deletion whose request is at or before cutoff.
func (s *Store) ListPurgeableAccounts(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id FROM users
         WHERE is_suspended = 1 AND is_tobedeleted = 1
           AND delete_request_date IS NOT NULL AND delete_request_date <= ?
           AND id > ?
         ORDER BY id LIMIT ?`,
		formatTime(cutoff), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purgeable accounts: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteUsers removes accounts relying on foreign-key cascades.
func (s *Store) DeleteUsers(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id IN ("+makePlaceholders(len(ids))+")", int64Args(ids)...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete users: %w", err)
	}
	return deleted, nil
}

// DeleteUsersExplicit removes each dependent row before the accounts, for
// databases whose cascades are missing or fail.
func (s *Store) DeleteUsersExplicit(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in := "(" + makePlaceholders(len(ids)) + ")"
	args := int64Args(ids)
	steps := []struct{ table, stmt string }{
		{"thread_users", "DELETE FROM thread_users WHERE user_id IN " + in},
		{"message_reactions", "DELETE FROM message_reactions WHERE user_id IN " + in},
		{"messages", "DELETE FROM messages WHERE sender_id IN " + in},
		{"comments", "DELETE FROM comments WHERE author_id IN " + in},
		{"posts", "DELETE FROM posts WHERE author_id IN " + in},
		{"bio_attachments", "DELETE FROM bio_attachments WHERE user_id IN " + in},
		{"file_uploads", "UPDATE file_uploads SET user_id = NULL WHERE user_id IN " + in},
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step.stmt, args...); err != nil {
				return fmt.Errorf("%s: %w", step.table, err)
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id IN "+in, args...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete users explicitly: %w", err)
	}
	return deleted, nil
}

func (s *Store) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
