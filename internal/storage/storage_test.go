package storage_test

import (
	"context"
	"flag"
	"fmt"
	"os"
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

var testDB *storage.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	tc := testutil.MustStartPostgres()
	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage_test: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func requireDB(t *testing.T) *storage.DB {
	t.Helper()
	if testDB == nil {
		t.Skip("skipping integration test in short mode")
	}
	return testDB
}

func seedUser(t *testing.T, db *storage.DB, plan model.PlanName) model.User {
	t.Helper()
	email := fmt.Sprintf("%s@example.com", uuid.NewString())
	u, err := db.CreateUser(context.Background(), email, plan, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return u
}

func seedRun(t *testing.T, db *storage.DB, userID uuid.UUID, threadID string) model.AgentRun {
	t.Helper()
	run, err := db.CreateRun(context.Background(), model.CreateRunRequest{
		ThreadID:       threadID,
		ConversationID: uuid.New(),
		UserID:         userID,
		Message:        "find acme",
	}, "gemini-2.5-flash", 0.2)
	require.NoError(t, err)
	return run
}

func TestRunLifecycle(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, db, model.PlanFree)
	run := seedRun(t, db, user.ID, "thread-"+uuid.NewString())

	require.NoError(t, db.ClaimRun(ctx, run.ID))

	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	// A claimed run cannot be claimed again.
	assert.ErrorIs(t, db.ClaimRun(ctx, run.ID), storage.ErrNotFound)

	status := model.RunStatusCompleted
	step := model.StepCompleted
	text := "done"
	now := time.Now().UTC()
	require.NoError(t, db.UpdateRun(ctx, run.ID, storage.RunUpdate{
		Status:       &status,
		CurrentStep:  &step,
		ResponseText: &text,
		CompletedAt:  &now,
	}))

	got, err = db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, "done", got.ResponseText)
}

func TestUpdateRunTerminalIsImmutable(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, db, model.PlanFree)
	run := seedRun(t, db, user.ID, "thread-"+uuid.NewString())

	require.NoError(t, db.ClaimRun(ctx, run.ID))
	require.NoError(t, db.FailRun(ctx, run.ID, "provider unavailable"))

	text := "late write"
	err := db.UpdateRun(ctx, run.ID, storage.RunUpdate{ResponseText: &text})
	assert.ErrorIs(t, err, storage.ErrRunTerminal)

	// FailRun on a terminal run is a no-op; the first terminal write wins.
	require.NoError(t, db.FailRun(ctx, run.ID, "second failure"))
	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "provider unavailable", *got.ErrorMessage)
}

func TestClaimRunSingleActivePerThread(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, db, model.PlanFree)
	thread := "thread-" + uuid.NewString()

	first := seedRun(t, db, user.ID, thread)
	second := seedRun(t, db, user.ID, thread)

	require.NoError(t, db.ClaimRun(ctx, first.ID))
	assert.ErrorIs(t, db.ClaimRun(ctx, second.ID), storage.ErrRunConflict)

	// Once the first run settles, the thread frees up.
	require.NoError(t, db.FailRun(ctx, first.ID, "gave up"))
	assert.NoError(t, db.ClaimRun(ctx, second.ID))
}

func TestWaitTokenConsumeOnce(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, db, model.PlanFree)
	run := seedRun(t, db, user.ID, "thread-"+uuid.NewString())

	tok, err := db.CreateWaitToken(ctx, run.ID, "c1", "draft_email", "needs approval", time.Hour)
	require.NoError(t, err)

	pending, err := db.GetPendingWaitToken(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, pending.ID)

	resolved, err := db.ResolveWaitToken(ctx, tok.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, resolved.State)
	require.NotNil(t, resolved.ResolvedAt)

	// The second resolve loses.
	_, err = db.ResolveWaitToken(ctx, tok.ID, false)
	assert.ErrorIs(t, err, storage.ErrTokenResolved)

	_, err = db.GetPendingWaitToken(ctx, run.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.ResolveWaitToken(ctx, uuid.New(), true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExpireWaitTokens(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, db, model.PlanFree)
	run := seedRun(t, db, user.ID, "thread-"+uuid.NewString())

	tok, err := db.CreateWaitToken(ctx, run.ID, "c1", "export_companies", "needs approval", time.Minute)
	require.NoError(t, err)

	expired, err := db.ExpireWaitTokens(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, tok.ID, expired[0].ID)
	assert.Equal(t, model.ApprovalRejected, expired[0].State)

	// An expired token can no longer be resolved.
	_, err = db.ResolveWaitToken(ctx, tok.ID, true)
	assert.ErrorIs(t, err, storage.ErrTokenResolved)
}

func TestIncrementWithLimitAtomic(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, db, model.PlanFree)

	start := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, db.EnsureUsagePeriod(ctx, user.ID, start, end))
	// Re-ensuring is a no-op.
	require.NoError(t, db.EnsureUsagePeriod(ctx, user.ID, start, end))

	const limit = 5
	const callers = 12
	var wg sync.WaitGroup
	granted := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := db.IncrementWithLimit(ctx, user.ID, start, model.UsageSearch, limit)
			if err == nil {
				granted <- n
			} else {
				assert.ErrorIs(t, err, storage.ErrLimitReached)
			}
		}()
	}
	wg.Wait()
	close(granted)

	var count int
	for range granted {
		count++
	}
	assert.Equal(t, limit, count)

	usage, err := db.GetUsage(ctx, user.ID, start)
	require.NoError(t, err)
	assert.Equal(t, limit, usage.Searches)

	// Unlimited counters always advance.
	n, err := db.IncrementWithLimit(ctx, user.ID, start, model.UsagePrompt, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Missing period rows are not created implicitly.
	_, err = db.IncrementWithLimit(ctx, user.ID, start.AddDate(0, 1, 0), model.UsageSearch, limit)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAddPromptCost(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, db, model.PlanPro)

	start := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.EnsureUsagePeriod(ctx, user.ID, start, start.AddDate(0, 1, 0)))

	require.NoError(t, db.AddPromptCost(ctx, user.ID, start, 1000, 200, 0.05))
	require.NoError(t, db.AddPromptCost(ctx, user.ID, start, 500, 100, 0.02))

	usage, err := db.GetUsage(ctx, user.ID, start)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), usage.PromptInputTokens)
	assert.Equal(t, int64(300), usage.PromptOutputTokens)
	assert.InDelta(t, 0.07, usage.PromptDollars, 1e-9)

	err = db.AddPromptCost(ctx, uuid.New(), start, 1, 1, 0.01)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunContextRoundTrip(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	user := seedUser(t, db, model.PlanFree)
	run := seedRun(t, db, user.ID, "thread-"+uuid.NewString())
	require.NoError(t, db.ClaimRun(ctx, run.ID))

	checkpoint := []byte(`{"messages":[],"step":"tools","iterations":2}`)
	status := model.RunStatusWaitingApproval
	require.NoError(t, db.UpdateRun(ctx, run.ID, storage.RunUpdate{
		Status:  &status,
		Context: checkpoint,
	}))

	raw, err := db.GetRunContext(ctx, run.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(checkpoint), string(raw))

	require.NoError(t, db.ResumeRun(ctx, run.ID))
	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)

	// Resuming a run that is not waiting is an error.
	assert.ErrorIs(t, db.ResumeRun(ctx, run.ID), storage.ErrNotFound)
}
