// Package sql 提供基于 database/sql 的胶囊存储实现，
// 支持 MySQL 5.7+ 与 PostgreSQL，表结构由 GORM 自动迁移。
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"timecapsule/backend/internal/domain"
	"timecapsule/backend/internal/storage"
)

// Store SQL 数据库存储实现
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB // GORM 实例，只用于迁移
	driverName string   // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	if driverName == "mysql" {
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	} else {
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）
func (s *Store) migrate() error {
	if s.gormDB == nil {
		return nil
	}
	return s.gormDB.AutoMigrate(
		&domain.Capsule{},
		&domain.Attachment{},
	)
}

// querier 同时覆盖 *sql.DB 与 *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const (
	capsuleColumns     = "id, title, message, author, owner_id, created_at, reveal_at, is_locked, passphrase_digest, notified_at"
	capsuleListColumns = "id, title, author, owner_id, created_at, reveal_at, is_locked, passphrase_digest, notified_at"
	attachmentColumns  = "id, capsule_id, kind, object_key, poster_key, mime_type, size_bytes, width, height, duration_ms, created_at"
)

// ========== Capsule Repository ==========

// CreateCapsule 在单个事务内写入胶囊与全部附件
func (s *Store) CreateCapsule(ctx context.Context, capsule *domain.Capsule) error {
	if err := capsule.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO capsules (` + capsuleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = tx.ExecContext(ctx, query,
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
		if isDuplicate(err) {
			return storage.ErrCapsuleExists
		}
		return fmt.Errorf("failed to insert capsule: %w", err)
	}

	attQuery := s.rebind(`
		INSERT INTO attachments (` + attachmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, att := range capsule.Attachments {
		_, err = tx.ExecContext(ctx, attQuery,
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

	return tx.Commit()
}

// GetCapsule 读取单枚胶囊并装载附件。
// 归属他人的胶囊报告为未找到；无主胶囊任何调用方可读。
func (s *Store) GetCapsule(ctx context.Context, ownerID *string, id string) (*domain.Capsule, error) {
	query := s.rebind(`SELECT ` + capsuleColumns + ` FROM capsules WHERE id = ?`)

	capsule, err := scanCapsule(s.db.QueryRowContext(ctx, query, id), true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrCapsuleNotFound
		}
		return nil, fmt.Errorf("failed to query capsule: %w", err)
	}
	if !readableBy(capsule, ownerID) {
		return nil, storage.ErrCapsuleNotFound
	}

	attachments, err := s.loadAttachments(ctx, s.db, []string{capsule.ID})
	if err != nil {
		return nil, err
	}
	capsule.Attachments = attachments[capsule.ID]
	return capsule, nil
}

// ListCapsules 列出所有者的全部胶囊，按创建时刻降序。
// SELECT 不含 message 列，封存内容不进入列表路径。
func (s *Store) ListCapsules(ctx context.Context, ownerID string) ([]*domain.Capsule, error) {
	query := s.rebind(`
		SELECT ` + capsuleListColumns + `
		FROM capsules
		WHERE owner_id = ?
		ORDER BY created_at DESC
	`)

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query capsules: %w", err)
	}
	defer rows.Close()

	capsules := make([]*domain.Capsule, 0)
	ids := make([]string, 0)
	for rows.Next() {
		capsule, err := scanCapsule(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capsule: %w", err)
		}
		capsules = append(capsules, capsule)
		ids = append(ids, capsule.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate capsules: %w", err)
	}

	attachments, err := s.loadAttachments(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for _, capsule := range capsules {
		capsule.Attachments = attachments[capsule.ID]
	}
	return capsules, nil
}

// DeleteCapsule 在单个事务内删除胶囊及其附件，返回被删对象。
// 只有所有者本人可删，无主胶囊不可删除。
func (s *Store) DeleteCapsule(ctx context.Context, ownerID *string, id string) (*domain.Capsule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.rebind(`SELECT ` + capsuleColumns + ` FROM capsules WHERE id = ?`)
	capsule, err := scanCapsule(tx.QueryRowContext(ctx, query, id), true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrCapsuleNotFound
		}
		return nil, fmt.Errorf("failed to query capsule: %w", err)
	}
	if capsule.OwnerID == nil || ownerID == nil || *capsule.OwnerID != *ownerID {
		return nil, storage.ErrCapsuleNotFound
	}

	attachments, err := s.loadAttachments(ctx, tx, []string{id})
	if err != nil {
		return nil, err
	}
	capsule.Attachments = attachments[id]

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM attachments WHERE capsule_id = ?`), id); err != nil {
		return nil, fmt.Errorf("failed to delete attachments: %w", err)
	}

	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM capsules WHERE id = ? AND owner_id = ?`), id, *ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete capsule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return nil, storage.ErrCapsuleNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}
	return capsule, nil
}

// ========== Reveal Log Repository ==========

// DueCapsules 返回已到揭示时刻且尚未通知的胶囊，按揭示时刻升序
func (s *Store) DueCapsules(ctx context.Context, now time.Time, limit int) ([]*domain.Capsule, error) {
	query := s.rebind(`
		SELECT ` + capsuleListColumns + `
		FROM capsules
		WHERE reveal_at <= ? AND notified_at IS NULL
		ORDER BY reveal_at ASC
		LIMIT ?
	`)

	rows, err := s.db.QueryContext(ctx, query, now.UTC(), limit)
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

// MarkNotified 记录通知已发出，重复标记为幂等覆盖
func (s *Store) MarkNotified(ctx context.Context, capsuleID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE capsules SET notified_at = ? WHERE id = ?`),
		at.UTC(), capsuleID)
	if err != nil {
		return fmt.Errorf("failed to mark capsule notified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return storage.ErrCapsuleNotFound
	}
	return nil
}

// ========== 辅助方法 ==========

// loadAttachments 批量装载附件并按胶囊分组
func (s *Store) loadAttachments(ctx context.Context, q querier, capsuleIDs []string) (map[string][]*domain.Attachment, error) {
	grouped := make(map[string][]*domain.Attachment, len(capsuleIDs))
	if len(capsuleIDs) == 0 {
		return grouped, nil
	}

	placeholders := strings.Repeat("?, ", len(capsuleIDs))
	placeholders = placeholders[:len(placeholders)-2]
	query := s.rebind(`
		SELECT ` + attachmentColumns + `
		FROM attachments
		WHERE capsule_id IN (` + placeholders + `)
		ORDER BY created_at ASC, id ASC
	`)

	args := make([]interface{}, len(capsuleIDs))
	for i, id := range capsuleIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		grouped[att.CapsuleID] = append(grouped[att.CapsuleID], att)
	}
	return grouped, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanCapsule 扫描一行胶囊记录；withMessage 指示行内是否含 message 列
func scanCapsule(row rowScanner, withMessage bool) (*domain.Capsule, error) {
	var c domain.Capsule
	var ownerID, digest sql.NullString
	var notifiedAt sql.NullTime

	dest := []interface{}{&c.ID, &c.Title}
	if withMessage {
		dest = append(dest, &c.Message)
	}
	dest = append(dest, &c.Author, &ownerID, &c.CreatedAt, &c.RevealAt, &c.IsLocked, &digest, &notifiedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if ownerID.Valid {
		c.OwnerID = &ownerID.String
	}
	if digest.Valid {
		c.PassphraseDigest = &digest.String
	}
	if notifiedAt.Valid {
		c.NotifiedAt = &notifiedAt.Time
	}
	return &c, nil
}

// scanAttachment 扫描一行附件记录
func scanAttachment(row rowScanner) (*domain.Attachment, error) {
	var a domain.Attachment
	var posterKey sql.NullString
	var durationMS sql.NullInt64

	err := row.Scan(
		&a.ID,
		&a.CapsuleID,
		&a.Kind,
		&a.ObjectKey,
		&posterKey,
		&a.MimeType,
		&a.SizeBytes,
		&a.Width,
		&a.Height,
		&durationMS,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if posterKey.Valid {
		a.PosterKey = &posterKey.String
	}
	if durationMS.Valid {
		a.DurationMS = &durationMS.Int64
	}
	return &a, nil
}

// readableBy 判断胶囊对给定调用方是否可见
func readableBy(capsule *domain.Capsule, ownerID *string) bool {
	if capsule.OwnerID == nil {
		return true
	}
	return ownerID != nil && *capsule.OwnerID == *ownerID
}

// rebind 将查询中的 ? 占位符改写为 PostgreSQL 的 $n 形式
func (s *Store) rebind(query string) string {
	if s.driverName != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isDuplicate 识别两种数据库的主键冲突错误
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || // MySQL 1062
		strings.Contains(msg, "duplicate key value") // PostgreSQL 23505
}
