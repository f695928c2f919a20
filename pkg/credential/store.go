package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/nao1215/ewallet-gateway/pkg/token"
)

// ErrNotFound はユーザー名に対応するレコードが存在しない場合のエラー。
var ErrNotFound = errors.New("資格情報が見つかりません")

// Record は外部ストアが保持する資格情報レコード。
type Record struct {
	// SubjectID はユーザーの一意識別子。
	SubjectID int64
	// Username はユーザー名。ストア内で一意。
	Username string
	// PasswordHash はbcryptでハッシュ化したパスワード。
	PasswordHash string
	// Role はユーザーのロール。
	Role token.Role
}

// Store はユーザー名で資格情報レコードを検索する外部ストア。
// レコードが無い場合は ErrNotFound を返す。
type Store interface {
	LookupByUsername(ctx context.Context, username string) (Record, error)
}

// MemoryStore はメモリ上に保持する読み取り専用のストア。
type MemoryStore struct {
	// records はユーザー名をキーとしたレコード。生成後は変更しない。
	records map[string]Record
}

// NewMemoryStore はレコードからMemoryStoreを生成する。
// ユーザー名が重複している場合はエラーを返す。
func NewMemoryStore(records ...Record) (*MemoryStore, error) {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		if r.Username == "" {
			return nil, errors.New("ユーザー名が空のレコードがあります")
		}
		if _, dup := m[r.Username]; dup {
			return nil, fmt.Errorf("ユーザー名が重複しています: %s", r.Username)
		}
		m[r.Username] = r
	}
	return &MemoryStore{records: m}, nil
}

// LookupByUsername はユーザー名に対応するレコードを返す。
func (s *MemoryStore) LookupByUsername(_ context.Context, username string) (Record, error) {
	r, ok := s.records[username]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// demoPasswordHash はデモユーザー共通のパスワードハッシュ（admin123, cost=10）。
const demoPasswordHash = "$2a$10$BQW5aPyqYtasLrIMq8l6sOv/.IAfO23lGGV//tTQcrEjr.kqCeRCC"

// DemoRecords はストア未設定時に使用するデモ用のレコードを返す。
// 本番環境では CREDENTIALS_DB を設定して使用しないこと。
func DemoRecords() []Record {
	return []Record{
		{SubjectID: 1, Username: "user1", PasswordHash: demoPasswordHash, Role: token.RoleUser},
		{SubjectID: 2, Username: "admin", PasswordHash: demoPasswordHash, Role: token.RoleAdmin},
	}
}
