package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLStore 将执行记录写入 MySQL 或 SQLite。
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore 打开数据库连接并执行内嵌的迁移脚本。
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := openDatabase(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	store := &SQLStore{db: db, driver: driver}
	if err := store.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", driver, err)
	}

	switch driver {
	case "sqlite":
		// 内存库每个连接都是独立的数据库。
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", driver, err)
	}
	return db, nil
}

// Append 插入一条执行记录。
func (s *SQLStore) Append(ctx context.Context, entry Entry) error {
	entry = normalize(entry)
	_, err := s.db.ExecContext(ctx, `INSERT INTO execution_journal
        (id, execution_id, plan_id, action_type, step_index, step_total, chain_id, to_address, tx_hash, status, error_code, error_message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ExecutionID, entry.PlanID, entry.ActionType, entry.Step, entry.Total, entry.ChainID,
		entry.To, entry.TxHash, string(entry.Status), entry.ErrorCode, entry.ErrorMessage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("写入执行记录失败: %w", err)
	}
	return nil
}

// ListLatest 返回最近的执行记录，按时间倒序排列。
func (s *SQLStore) ListLatest(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, execution_id, plan_id, action_type, step_index, step_total, chain_id,
        to_address, tx_hash, status, error_code, error_message, created_at
        FROM execution_journal ORDER BY created_at DESC, step_index DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询执行记录失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry  Entry
			status string
		)
		if err := rows.Scan(&entry.ID, &entry.ExecutionID, &entry.PlanID, &entry.ActionType, &entry.Step, &entry.Total,
			&entry.ChainID, &entry.To, &entry.TxHash, &status, &entry.ErrorCode, &entry.ErrorMessage, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析执行记录失败: %w", err)
		}
		entry.Status = Status(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历执行记录失败: %w", err)
	}
	return entries, nil
}

// Close 关闭数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
