package notifications

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/herald-notify/herald/internal/channels"
	"github.com/herald-notify/herald/internal/docstore"
	"github.com/herald-notify/herald/internal/push"
	"github.com/herald-notify/herald/internal/subscriptions"
	"github.com/herald-notify/herald/internal/tokens"
	"gorm.io/gorm"
)

// recordingPusher captures every multicast call with its token batch sorted
// for stable assertions.
type recordingPusher struct {
	mu    sync.Mutex
	calls [][]string
}

func (p *recordingPusher) SendMulticast(_ context.Context, deviceTokens []string, _ push.Message) (push.Report, error) {
	batch := append([]string(nil), deviceTokens...)
	sort.Strings(batch)
	p.mu.Lock()
	p.calls = append(p.calls, batch)
	p.mu.Unlock()
	return push.Report{SuccessCount: len(deviceTokens)}, nil
}

func (p *recordingPusher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *recordingPusher) lastCall() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

// sequenceIDProvider issues deterministic ids so tests can address records.
type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("record-%04d", p.next), nil
}

type testEnvironment struct {
	store         *docstore.Store
	channels      *channels.Service
	subscriptions *subscriptions.Service
	tokens        *tokens.Service
	pusher        *recordingPusher
	dispatcher    *Service
	clock         *movingClock
}

type movingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	dsn := fmt.Sprintf("file:notifications_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&docstore.Document{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := docstore.NewStore(docstore.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	clock := &movingClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	locks := docstore.NewKeyMutex()

	channelDirectory, err := channels.NewService(channels.ServiceConfig{Store: store, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build channel directory: %v", err)
	}
	subscriptionLedger, err := subscriptions.NewService(subscriptions.ServiceConfig{Store: store, Locks: locks, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build subscription ledger: %v", err)
	}
	tokenRegistry, err := tokens.NewService(tokens.ServiceConfig{Store: store, Locks: locks, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build token registry: %v", err)
	}

	pusher := &recordingPusher{}
	dispatcher, err := NewService(ServiceConfig{
		Store:         store,
		Channels:      channelDirectory,
		Subscriptions: subscriptionLedger,
		Tokens:        tokenRegistry,
		Pusher:        pusher,
		IDProvider:    &sequenceIDProvider{},
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}

	return &testEnvironment{
		store:         store,
		channels:      channelDirectory,
		subscriptions: subscriptionLedger,
		tokens:        tokenRegistry,
		pusher:        pusher,
		dispatcher:    dispatcher,
		clock:         clock,
	}
}

func (env *testEnvironment) createChannel(t *testing.T, id, parentID string) {
	t.Helper()
	_, err := env.channels.Create(context.Background(), channels.Channel{
		ID:       id,
		TenantID: "acme",
		Name:     id,
		ParentID: parentID,
	})
	if err != nil {
		t.Fatalf("unexpected channel create error for %q: %v", id, err)
	}
}

func (env *testEnvironment) subscribe(t *testing.T, channelID, userID string) {
	t.Helper()
	if _, err := env.subscriptions.Subscribe(context.Background(), "acme", channelID, userID); err != nil {
		t.Fatalf("unexpected subscribe error for %q: %v", userID, err)
	}
}

func (env *testEnvironment) registerTokens(t *testing.T, userID string, deviceTokens ...string) {
	t.Helper()
	if _, err := env.tokens.Register(context.Background(), "acme", userID, deviceTokens); err != nil {
		t.Fatalf("unexpected token register error for %q: %v", userID, err)
	}
}

func (env *testEnvironment) storedRecords(t *testing.T) []Notification {
	t.Helper()
	records, err := docstore.FindAll[Notification](context.Background(), env.store, Collection)
	if err != nil {
		t.Fatalf("unexpected record read error: %v", err)
	}
	return records
}
