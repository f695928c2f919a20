package credential

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/nao1215/ewallet-gateway/pkg/migration"
	"github.com/nao1215/ewallet-gateway/pkg/token"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore はSQLiteのcredentialsテーブルを参照するストア。
// ゲートウェイからは検索のみを行い、レコードの登録は外部で行う。
type SQLiteStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// OpenSQLite はpathのSQLiteデータベースを開き、スキーマを適用したストアを返す。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore は接続済みのdbにスキーマを適用したストアを返す。
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// LookupByUsername はユーザー名に対応するレコードを返す。
func (s *SQLiteStore) LookupByUsername(ctx context.Context, username string) (Record, error) {
	var (
		r    Record
		role string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role FROM credentials WHERE username = ?",
		username,
	).Scan(&r.SubjectID, &r.Username, &r.PasswordHash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("資格情報の検索に失敗: %w", err)
	}
	r.Role = token.Role(role)
	return r, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
