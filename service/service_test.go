package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"deepchat/model"
	"deepchat/platform"
)

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("chat-%d.db", testDBSeq.Add(1)))
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, model.InstallDB(db))
	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *model.User {
	t.Helper()
	user := model.User{Email: email, Name: "Test User"}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// stubGenerator records every history it is asked to complete.
type stubGenerator struct {
	mu      sync.Mutex
	calls   [][]platform.Turn
	replyFn func(history []platform.Turn) (string, error)
}

func (g *stubGenerator) Complete(ctx context.Context, history []platform.Turn) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, append([]platform.Turn(nil), history...))
	fn := g.replyFn
	g.mu.Unlock()
	if fn != nil {
		return fn(history)
	}
	return "ok", nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func newTestChatService(t *testing.T) (*ChatService, *stubGenerator, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	gen := &stubGenerator{}
	return NewChatService(db, gen, testLogger(), 5), gen, db
}
