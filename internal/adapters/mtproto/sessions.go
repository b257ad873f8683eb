package mtproto

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gotd/td/session"
)

// SessionExt задаёт расширение файлов сессий в каталоге клиентов.
const SessionExt = ".session"

// SessionRepo хранит сессии в БД.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// SessionDB реализует session.Storage поверх SessionRepo для одного аккаунта.
type SessionDB struct {
	repo SessionRepo
	name string
}

var _ session.Storage = (*SessionDB)(nil)

// NewSessionDB создаёт хранилище сессии аккаунта name.
func NewSessionDB(repo SessionRepo, name string) *SessionDB {
	return &SessionDB{repo: repo, name: name}
}

// LoadSession загружает сессию.
func (s *SessionDB) LoadSession(ctx context.Context) ([]byte, error) {
	return s.repo.LoadMTProtoSession(ctx, s.name)
}

// StoreSession сохраняет сессию.
func (s *SessionDB) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}

// DirAccounts находит файлы *.session в dir; имя сессии: имя файла без расширения.
// Результат отсортирован по имени.
func DirAccounts(dir string, apiID int, apiHash string) ([]Account, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var accounts []Account
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), SessionExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), SessionExt)
		if name == "" {
			continue
		}
		accounts = append(accounts, Account{
			Name:    name,
			APIID:   apiID,
			APIHash: apiHash,
			Storage: &session.FileStorage{Path: filepath.Join(dir, e.Name())},
		})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

// SessionPath возвращает путь к файлу сессии name в dir.
func SessionPath(dir, name string) string {
	return filepath.Join(dir, name+SessionExt)
}
