package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/edge"
	"github.com/madcarpet/lessonadmin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	delayed map[string]models.Job
	claimed map[string]bool
	audit   []models.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{delayed: map[string]models.Job{}, claimed: map[string]bool{}}
}

// AddJobDelayed refuses cancelled contexts like a real driver would.
func (m *memStore) AddJobDelayed(ctx context.Context, j *models.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayed[j.ID] = *j
	delete(m.claimed, j.ID)
	return nil
}

func (m *memStore) ClaimJobsDelayed(_ context.Context, lim int) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Job{}
	for id, j := range m.delayed {
		if len(out) == lim {
			break
		}
		if m.claimed[id] {
			continue
		}
		m.claimed[id] = true
		out = append(out, j)
	}
	return out, nil
}

func (m *memStore) DeleteJobDelayed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.delayed, id)
	delete(m.claimed, id)
	return nil
}

func (m *memStore) AddAuditEntry(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}

func (m *memStore) delayedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delayed)
}

func (m *memStore) auditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audit)
}

func Test_Queue_ProcessesJobs(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	q := NewQueue(store, 4, 2, 1, 10*time.Millisecond, 10)
	q.Register(constants.JobAudit, AuditHandler(store))

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	Audit(ctx, q, "admin-1", "block.create", "lesson_block", "b1", map[string]string{"type": "text"})
	Audit(ctx, q, "admin-1", "block.delete", "lesson_block", "b2", nil)

	require.Eventually(t, func() bool { return store.auditCount() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	q.Wait()

	assert.Equal(t, 0, store.delayedCount())
}

func Test_Queue_FailedJobRetriedFromDelayed(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	q := NewQueue(store, 4, 1, 1, 10*time.Millisecond, 10)

	var mu sync.Mutex
	calls := 0
	q.Register("flaky", func(_ context.Context, _ json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("remote down")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	require.NoError(t, q.Enqueue(ctx, "flaky", map[string]int{"n": 1}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return store.delayedCount() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	q.Wait()
}

func Test_Queue_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	q := NewQueue(store, 1, 0, 0, time.Second, 10)
	q.Register("broken", func(context.Context, json.RawMessage) error { return errors.New("always") })

	job := models.Job{ID: "j1", Kind: "broken", Payload: json.RawMessage(`{}`)}
	for i := 1; i < DefaultMaxAttempts; i++ {
		assert.False(t, q.process(context.Background(), job, true))
		store.mu.Lock()
		job = store.delayed["j1"]
		store.mu.Unlock()
		assert.Equal(t, i, job.Attempts)
	}
	assert.True(t, q.process(context.Background(), job, true))
}

func Test_Queue_UnknownKindDropped(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	q := NewQueue(store, 1, 0, 0, time.Second, 10)

	assert.True(t, q.process(context.Background(), models.Job{ID: "j", Kind: "nope"}, false))
	assert.Equal(t, 0, store.delayedCount())
}

func Test_Queue_FullQueueParksJob(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	q := NewQueue(store, 1, 0, 0, time.Second, 10)

	require.NoError(t, q.Enqueue(context.Background(), constants.JobAudit, map[string]string{}))
	require.NoError(t, q.Enqueue(context.Background(), constants.JobAudit, map[string]string{}))

	assert.Len(t, q.jobChan, 1)
	assert.Equal(t, 1, store.delayedCount())
}

func Test_Queue_StopParksBufferedJobs(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	q := NewQueue(store, 8, 1, 0, time.Second, 10)

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	handled := 0
	q.Register("slow", func(ctx context.Context, _ json.RawMessage) error {
		mu.Lock()
		handled++
		first := handled == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
			return ctx.Err()
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(ctx, "slow", map[string]int{"n": i}))
	}
	<-started
	cancel()
	close(release)
	q.Wait()

	mu.Lock()
	assert.Equal(t, 1, handled, "nothing runs after the stop signal")
	mu.Unlock()
	assert.Empty(t, q.jobChan)
	// the interrupted job and the three buffered ones
	assert.Equal(t, 4, store.delayedCount())
}

func Test_Queue_DelayedWorkersDoNotShareJobs(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("j%d", i)
		store.delayed[id] = models.Job{ID: id, Kind: "count", Payload: json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))}
	}
	q := NewQueue(store, 1, 0, 3, 5*time.Millisecond, 2)

	var mu sync.Mutex
	runs := map[string]int{}
	q.Register("count", func(_ context.Context, payload json.RawMessage) error {
		var p struct{ ID string }
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		mu.Lock()
		runs[p.ID]++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	require.Eventually(t, func() bool { return store.delayedCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, runs, 6)
	for id, n := range runs {
		assert.Equal(t, 1, n, id)
	}
}

type fakeDeleter struct {
	calls []bool
	paths [][]string
	dry   *edge.DeleteResult
	err   error
}

func (f *fakeDeleter) DeleteFiles(_ context.Context, paths []string, dryRun bool) (*edge.DeleteResult, error) {
	f.calls = append(f.calls, dryRun)
	f.paths = append(f.paths, paths)
	if f.err != nil {
		return nil, f.err
	}
	if dryRun {
		return f.dry, nil
	}
	return &edge.DeleteResult{Deleted: len(paths)}, nil
}

func Test_DeleteAssetsHandler(t *testing.T) {
	t.Parallel()

	payload, _ := json.Marshal(DeleteAssetsPayload{LessonID: "l1", Paths: []string{"lessons/l1/old.png", "lessons/l1/kept.png"}})

	tests := []struct {
		name      string
		dry       *edge.DeleteResult
		err       error
		wantCalls []bool
		wantExec  []string
		wantErr   bool
	}{
		{
			name:      "allowed paths executed",
			dry:       &edge.DeleteResult{Allowed: 1, Blocked: 1, AllowedPaths: []string{"lessons/l1/old.png"}, BlockedPaths: []string{"lessons/l1/kept.png"}},
			wantCalls: []bool{true, false},
			wantExec:  []string{"lessons/l1/old.png"},
		},
		{
			name:      "everything blocked",
			dry:       &edge.DeleteResult{Blocked: 2, BlockedPaths: []string{"lessons/l1/old.png", "lessons/l1/kept.png"}},
			wantCalls: []bool{true},
		},
		{
			name:      "dry run failure",
			err:       errors.New("gateway timeout"),
			wantCalls: []bool{true},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDeleter{dry: tt.dry, err: tt.err}
			err := DeleteAssetsHandler(d)(context.Background(), payload)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, d.calls)
			if tt.wantExec != nil {
				assert.Equal(t, tt.wantExec, d.paths[1])
			}
		})
	}
}

type fakeSyncer struct{ deal, profile string }

func (f *fakeSyncer) SyncDeal(_ context.Context, dealID, profileID string) error {
	f.deal, f.profile = dealID, profileID
	return nil
}

func Test_CRMSyncHandler(t *testing.T) {
	t.Parallel()

	s := &fakeSyncer{}
	payload, _ := json.Marshal(CRMSyncPayload{DealID: "d1", ProfileID: "p1"})

	require.NoError(t, CRMSyncHandler(s)(context.Background(), payload))
	assert.Equal(t, "d1", s.deal)
	assert.Equal(t, "p1", s.profile)

	require.Error(t, CRMSyncHandler(s)(context.Background(), json.RawMessage(`[`)))
}
