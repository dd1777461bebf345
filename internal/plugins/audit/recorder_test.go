package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// --- Mock Repository ---

// mockAuditRepo implements AuditRepository for testing.
type mockAuditRepo struct {
	mu       sync.Mutex
	appended []Entry
	appendFn func(ctx context.Context, entry *Entry) error
	listFn   func(ctx context.Context, action Action, limit, offset int) ([]Entry, int, error)
}

func (m *mockAuditRepo) Append(ctx context.Context, entry *Entry) error {
	if m.appendFn != nil {
		if err := m.appendFn(ctx, entry); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, *entry)
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, action Action, limit, offset int) ([]Entry, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, action, limit, offset)
	}
	return nil, 0, nil
}

func (m *mockAuditRepo) entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.appended...)
}

// --- Tests ---

func TestAsyncRecorder_WritesAndDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &mockAuditRepo{}
	rec := NewAsyncRecorder(repo, RecorderConfig{BufferSize: 16, WriteTimeout: time.Second}, nil)

	for i := 0; i < 10; i++ {
		rec.Record(context.Background(), Entry{UserID: "u1", Action: ActionLoginSuccess})
	}
	rec.Close()

	got := repo.entries()
	require.Len(t, got, 10)
	for _, e := range got {
		assert.False(t, e.CreatedAt.IsZero(), "timestamp is taken when the event is recorded")
	}
}

func TestAsyncRecorder_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	repo := &mockAuditRepo{appendFn: func(ctx context.Context, _ *Entry) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}

	rec := NewAsyncRecorder(repo, RecorderConfig{BufferSize: 1, WriteTimeout: time.Second}, nil)

	// First entry occupies the writer, second fills the buffer.
	rec.Record(context.Background(), Entry{Action: ActionLogout})
	<-started
	rec.Record(context.Background(), Entry{Action: ActionLogout})

	done := make(chan struct{})
	go func() {
		rec.Record(context.Background(), Entry{Action: ActionLogout})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	assert.Equal(t, uint64(1), rec.Dropped())

	close(release)
	rec.Close()
	assert.Len(t, repo.entries(), 2)
}

func TestAsyncRecorder_WriteFailureIsSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &mockAuditRepo{appendFn: func(context.Context, *Entry) error {
		return errors.New("connection refused")
	}}
	rec := NewAsyncRecorder(repo, RecorderConfig{BufferSize: 4}, nil)

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), Entry{Action: ActionLoginFailed})
	})
	rec.Close()
	assert.Empty(t, repo.entries())
}

func TestAsyncRecorder_RejectsUnknownAction(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &mockAuditRepo{}
	rec := NewAsyncRecorder(repo, RecorderConfig{BufferSize: 4}, nil)
	rec.Record(context.Background(), Entry{Action: "DELETE_EVERYTHING"})
	rec.Close()

	assert.Empty(t, repo.entries())
}

func TestAsyncRecorder_RecordAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := &mockAuditRepo{}
	rec := NewAsyncRecorder(repo, RecorderConfig{BufferSize: 4}, nil)
	rec.Close()
	rec.Close()

	rec.Record(context.Background(), Entry{Action: ActionLogout})
	assert.Empty(t, repo.entries())
	assert.Equal(t, uint64(1), rec.Dropped())
}

func TestAsyncRecorder_CloseDuringRecordLosesNothingSilently(t *testing.T) {
	defer goleak.VerifyNone(t)

	const writers, perWriter = 8, 50
	repo := &mockAuditRepo{}
	rec := NewAsyncRecorder(repo, RecorderConfig{BufferSize: writers * perWriter}, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < perWriter; j++ {
				rec.Record(context.Background(), Entry{UserID: "u1", Action: ActionLoginSuccess})
			}
		}()
	}

	close(start)
	rec.Close()
	wg.Wait()

	// Every entry was either written by the final drain or counted.
	assert.Equal(t, uint64(writers*perWriter), uint64(len(repo.entries()))+rec.Dropped())
}

func TestAsyncRecorder_WriteUsesTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	var deadline time.Time
	var hasDeadline bool
	repo := &mockAuditRepo{appendFn: func(ctx context.Context, _ *Entry) error {
		deadline, hasDeadline = ctx.Deadline()
		return nil
	}}
	rec := NewAsyncRecorder(repo, RecorderConfig{BufferSize: 1, WriteTimeout: 2 * time.Second}, nil)
	rec.Record(context.Background(), Entry{Action: ActionLoginSuccess})
	rec.Close()

	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, 2*time.Second)
}
