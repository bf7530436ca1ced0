// Package postgres 提供基于 pgx 连接池的原生 PostgreSQL 胶囊存储。
// 与 sql 包的通用实现不同，这里直接使用 pgx 协议，适合高并发部署。
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS capsules (
	id varchar(36) PRIMARY KEY,
	title varchar(120) NOT NULL,
	message text NOT NULL,
	author varchar(60) NOT NULL,
	owner_id varchar(36),
	created_at timestamptz NOT NULL,
	reveal_at timestamptz NOT NULL,
	is_locked boolean NOT NULL DEFAULT false,
	passphrase_digest varchar(100),
	notified_at timestamptz
);
CREATE INDEX IF NOT EXISTS idx_capsules_owner_id ON capsules (owner_id);
CREATE INDEX IF NOT EXISTS idx_capsules_reveal_at ON capsules (reveal_at);

CREATE TABLE IF NOT EXISTS attachments (
	id varchar(36) PRIMARY KEY,
	capsule_id varchar(36) NOT NULL,
	kind varchar(10) NOT NULL,
	object_key varchar(500) NOT NULL,
	poster_key varchar(500),
	mime_type varchar(100),
	size_bytes bigint NOT NULL DEFAULT 0,
	width integer NOT NULL DEFAULT 0,
	height integer NOT NULL DEFAULT 0,
	duration_ms bigint,
	created_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attachments_capsule_id ON attachments (capsule_id);
`

const (
	capsuleColumns     = "id, title, message, author, owner_id, created_at, reveal_at, is_locked, passphrase_digest, notified_at"
	capsuleListColumns = "id, title, author, owner_id, created_at, reveal_at, is_locked, passphrase_digest, notified_at"
	attachmentColumns  = "id, capsule_id, kind, object_key, poster_key, mime_type, size_bytes, width, height, duration_ms, created_at"
)

// Store PostgreSQL 存储实现（pgx 原生）
type Store struct {
	client *Client
	log    *zap.Logger
}

// NewStore 创建 PostgreSQL 存储实例并初始化表结构
func NewStore(cfg *config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	client, err := New(cfg, log)
	if err != nil {
		return nil, err
	}

	store := &Store{client: client, log: log}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.ensureSchema(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// ensureSchema 创建缺失的表与索引
func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.client.Pool().Exec(ctx, schemaDDL)
	return err
}

// Close 关闭存储
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Ping(ctx)
}

// ========== Capsule Repository ==========

// CreateCapsule 在单个事务内写入胶囊与全部附件
func (s *Store) CreateCapsule(ctx context.Context, capsule *domain.Capsule) error {
	if err := capsule.Validate(); err != nil {
		return err
	}

	tx, err := s.client.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO capsules (`+capsuleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		capsule.ID,
		capsule.Title,
		capsule.Message,
		capsule.Author,
		capsule.OwnerID,
		capsule.CreatedAt,
		capsule.RevealAt,
		capsule.IsLocked,
		capsule.PassphraseDigest,
		capsule.NotifiedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrCapsuleExists
		}
		return fmt.Errorf("failed to insert capsule: %w", err)
	}

	for _, att := range capsule.Attachments {
		_, err = tx.Exec(ctx, `
			INSERT INTO attachments (`+attachmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			att.ID,
			att.CapsuleID,
			att.Kind,
			att.ObjectKey,
			att.PosterKey,
			att.MimeType,
			att.SizeBytes,
			att.Width,
			att.Height,
			att.DurationMS,
			att.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetCapsule 读取单枚胶囊并装载附件
func (s *Store) GetCapsule(ctx context.Context, ownerID *string, id string) (*domain.Capsule, error) {
	row := s.client.Pool().QueryRow(ctx,
		`SELECT `+capsuleColumns+` FROM capsules WHERE id = $1`, id)

	capsule, err := scanCapsule(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrCapsuleNotFound
		}
		return nil, fmt.Errorf("failed to query capsule: %w", err)
	}
	if !readableBy(capsule, ownerID) {
		return nil, storage.ErrCapsuleNotFound
	}

	attachments, err := s.loadAttachments(ctx, capsule.ID)
	if err != nil {
		return nil, err
	}
	capsule.Attachments = attachments
	return capsule, nil
}

// ListCapsules 列出所有者的全部胶囊，按创建时刻降序，message 列不参与查询
func (s *Store) ListCapsules(ctx context.Context, ownerID string) ([]*domain.Capsule, error) {
	rows, err := s.client.Pool().Query(ctx, `
		SELECT `+capsuleListColumns+`
		FROM capsules
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query capsules: %w", err)
	}
	defer rows.Close()

	capsules := make([]*domain.Capsule, 0)
	for rows.Next() {
		capsule, err := scanCapsule(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capsule: %w", err)
		}
		capsules = append(capsules, capsule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate capsules: %w", err)
	}

	for _, capsule := range capsules {
		attachments, err := s.loadAttachments(ctx, capsule.ID)
		if err != nil {
			return nil, err
		}
		capsule.Attachments = attachments
	}
	return capsules, nil
}

// DeleteCapsule 在单个事务内删除胶囊及其附件，返回被删对象
func (s *Store) DeleteCapsule(ctx context.Context, ownerID *string, id string) (*domain.Capsule, error) {
	if ownerID == nil {
		return nil, storage.ErrCapsuleNotFound
	}

	tx, err := s.client.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 行锁防止并发删除与读取交错
	row := tx.QueryRow(ctx,
		`SELECT `+capsuleColumns+` FROM capsules WHERE id = $1 FOR UPDATE`, id)
	capsule, err := scanCapsule(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrCapsuleNotFound
		}
		return nil, fmt.Errorf("failed to query capsule: %w", err)
	}
	if capsule.OwnerID == nil || *capsule.OwnerID != *ownerID {
		return nil, storage.ErrCapsuleNotFound
	}

	attRows, err := tx.Query(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE capsule_id = $1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	capsule.Attachments, err = collectAttachments(attRows)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM attachments WHERE capsule_id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete attachments: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM capsules WHERE id = $1 AND owner_id = $2`, id, *ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete capsule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrCapsuleNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return capsule, nil
}

// ========== Reveal Log Repository ==========

// DueCapsules 返回已到揭示时刻且尚未通知的胶囊，按揭示时刻升序
func (s *Store) DueCapsules(ctx context.Context, now time.Time, limit int) ([]*domain.Capsule, error) {
	rows, err := s.client.Pool().Query(ctx, `
		SELECT `+capsuleListColumns+`
		FROM capsules
		WHERE reveal_at <= $1 AND notified_at IS NULL
		ORDER BY reveal_at ASC
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due capsules: %w", err)
	}
	defer rows.Close()

	capsules := make([]*domain.Capsule, 0)
	for rows.Next() {
		capsule, err := scanCapsule(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capsule: %w", err)
		}
		capsules = append(capsules, capsule)
	}
	return capsules, rows.Err()
}

// MarkNotified 记录通知已发出
func (s *Store) MarkNotified(ctx context.Context, capsuleID string, at time.Time) error {
	tag, err := s.client.Pool().Exec(ctx,
		`UPDATE capsules SET notified_at = $1 WHERE id = $2`, at.UTC(), capsuleID)
	if err != nil {
		return fmt.Errorf("failed to mark capsule notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrCapsuleNotFound
	}
	return nil
}

// ========== 辅助方法 ==========

// loadAttachments 装载单枚胶囊的附件
func (s *Store) loadAttachments(ctx context.Context, capsuleID string) ([]*domain.Attachment, error) {
	rows, err := s.client.Pool().Query(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE capsule_id = $1 ORDER BY created_at ASC, id ASC`,
		capsuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	return collectAttachments(rows)
}

func collectAttachments(rows pgx.Rows) ([]*domain.Attachment, error) {
	defer rows.Close()

	attachments := make([]*domain.Attachment, 0)
	for rows.Next() {
		var a domain.Attachment
		err := rows.Scan(
			&a.ID,
			&a.CapsuleID,
			&a.Kind,
			&a.ObjectKey,
			&a.PosterKey,
			&a.MimeType,
			&a.SizeBytes,
			&a.Width,
			&a.Height,
			&a.DurationMS,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, &a)
	}
	return attachments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCapsule 扫描一行胶囊记录；withMessage 指示行内是否含 message 列
func scanCapsule(row rowScanner, withMessage bool) (*domain.Capsule, error) {
	var c domain.Capsule

	dest := []any{&c.ID, &c.Title}
	if withMessage {
		dest = append(dest, &c.Message)
	}
	dest = append(dest, &c.Author, &c.OwnerID, &c.CreatedAt, &c.RevealAt, &c.IsLocked, &c.PassphraseDigest, &c.NotifiedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &c, nil
}

// readableBy 判断胶囊对给定调用方是否可见
func readableBy(capsule *domain.Capsule, ownerID *string) bool {
	if capsule.OwnerID == nil {
		return true
	}
	return ownerID != nil && *capsule.OwnerID == *ownerID
}

// isUniqueViolation 识别 PostgreSQL 唯一约束冲突（SQLSTATE 23505）
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
