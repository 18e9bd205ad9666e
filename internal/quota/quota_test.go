package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/storage"
	"github.com/prospecta-ai/prospecta/internal/testutil"
)

// memStore is an in-memory UsageStore with the same atomicity contract as the
// SQL implementation: the counter only advances while below the limit.
type memStore struct {
	mu    sync.Mutex
	usage map[string]*model.Usage
}

func newMemStore() *memStore {
	return &memStore{usage: make(map[string]*model.Usage)}
}

func key(userID uuid.UUID, start time.Time) string {
	return userID.String() + "/" + start.Format(time.RFC3339)
}

func (s *memStore) EnsureUsagePeriod(_ context.Context, userID uuid.UUID, start, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(userID, start)
	if _, ok := s.usage[k]; !ok {
		s.usage[k] = &model.Usage{UserID: userID, PeriodStart: start, PeriodEnd: end}
	}
	return nil
}

func (s *memStore) IncrementWithLimit(_ context.Context, userID uuid.UUID, start time.Time, kind model.UsageKind, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[key(userID, start)]
	if !ok {
		return 0, storage.ErrNotFound
	}
	var counter *int
	switch kind {
	case model.UsageSearch:
		counter = &u.Searches
	case model.UsageExport:
		counter = &u.Exports
	case model.UsagePrompt:
		counter = &u.Prompts
	}
	if limit > 0 && *counter >= limit {
		return 0, storage.ErrLimitReached
	}
	*counter++
	return *counter, nil
}

func (s *memStore) AddPromptCost(_ context.Context, userID uuid.UUID, start time.Time, inputTokens, outputTokens int64, dollars float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[key(userID, start)]
	if !ok {
		return storage.ErrNotFound
	}
	u.PromptInputTokens += inputTokens
	u.PromptOutputTokens += outputTokens
	u.PromptDollars += dollars
	return nil
}

func (s *memStore) GetUsage(_ context.Context, userID uuid.UUID, start time.Time) (model.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[key(userID, start)]
	if !ok {
		return model.Usage{}, storage.ErrNotFound
	}
	return *u, nil
}

func testUser(plan model.PlanName) model.User {
	return model.User{
		ID:        uuid.New(),
		Email:     "user@example.com",
		Plan:      plan,
		CreatedAt: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestCheckAndReserveWithinLimit(t *testing.T) {
	svc := New(newMemStore(), testutil.TestLogger())
	user := testUser(model.PlanFree)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := svc.CheckAndReserve(ctx, user, model.UsageSearch)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "reservation %d should be allowed", i)
		assert.Equal(t, 10-i, d.Remaining)
	}

	d, err := svc.CheckAndReserve(ctx, user, model.UsageSearch)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10, d.Used)
	assert.Equal(t, 10, d.Limit)
}

func TestCheckAndReserveUnlimited(t *testing.T) {
	svc := New(newMemStore(), testutil.TestLogger())
	user := testUser(model.PlanPro)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d, err := svc.CheckAndReserve(ctx, user, model.UsageSearch)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, -1, d.Remaining)
	}
}

func TestCheckAndReserveConcurrent(t *testing.T) {
	svc := New(newMemStore(), testutil.TestLogger())
	user := testUser(model.PlanFree) // limit 10
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	allowed := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.CheckAndReserve(ctx, user, model.UsagePrompt)
			assert.NoError(t, err)
			allowed <- d.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	granted := 0
	for ok := range allowed {
		if ok {
			granted++
		}
	}
	assert.Equal(t, 10, granted, "exactly the limit must be granted under contention")
}

func TestRecordCost(t *testing.T) {
	store := newMemStore()
	svc := New(store, testutil.TestLogger())
	user := testUser(model.PlanFree)
	ctx := context.Background()

	require.NoError(t, svc.RecordCost(ctx, user, "gemini-2.5-flash", 1_000_000, 500_000))

	start, _ := PeriodForAnchor(user.CreatedAt, time.Now())
	usage, err := store.GetUsage(ctx, user.ID, start)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), usage.PromptInputTokens)
	assert.Equal(t, int64(500_000), usage.PromptOutputTokens)
	assert.InDelta(t, (0.30+0.5*2.50)*12, usage.PromptDollars, 1e-9)
}

func TestRecordCostZeroTokensIsNoop(t *testing.T) {
	store := newMemStore()
	svc := New(store, testutil.TestLogger())
	user := testUser(model.PlanFree)

	require.NoError(t, svc.RecordCost(context.Background(), user, "gemini-2.5-flash", 0, 0))
	assert.Empty(t, store.usage)
}

func TestPlanRollsToNewPeriod(t *testing.T) {
	store := newMemStore()
	svc := New(store, testutil.TestLogger())
	user := testUser(model.PlanFree)
	ctx := context.Background()

	// Fill the quota in the first period.
	svc.now = func() time.Time { return time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC) }
	for i := 0; i < 10; i++ {
		d, err := svc.CheckAndReserve(ctx, user, model.UsagePrompt)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := svc.CheckAndReserve(ctx, user, model.UsagePrompt)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// After the anchor day the counter starts fresh.
	svc.now = func() time.Time { return time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC) }
	d, err = svc.CheckAndReserve(ctx, user, model.UsagePrompt)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
}

func TestLimitsUnknownPlanDefaultsToFree(t *testing.T) {
	assert.Equal(t, Limits(model.PlanFree), Limits(model.PlanName("PLATINUM")))
}
