package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/missionctl/missionctl/internal/store"
)

func setupStoreTest(t *testing.T) *store.Store {
	t.Helper()

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, store.Migrate(db))

	return store.New(db)
}

const baseTime int64 = 1_700_000_000_000

func TestCreateTaskMessageFanOutUniqueness(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))
	require.NoError(t, s.UpsertAgentAlias(ctx, "carol", "session-carol", baseTime))

	msg, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "hey @bob and @carol, also @bob again", nil, baseTime)
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "carol"}, msg.Mentions)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Len(t, notifications, 2)

	targets := map[string]bool{}
	for _, n := range notifications {
		targets[n.TargetSessionKey] = true
		require.Equal(t, store.StateQueued, n.State)
	}
	require.True(t, targets["session-bob"])
	require.True(t, targets["session-carol"])
}

func TestCreateTaskMessageSelfMentionExcluded(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "alice", "session-alice", baseTime))

	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "note to self @alice", nil, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Empty(t, notifications)
}

func TestCreateTaskMessageUnresolvableMentionDropped(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "hey @nobody", nil, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Empty(t, notifications)
}

func TestCreateTaskMessageAgentPrefixBypassesAliasTable(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "cc @agent:session-dave", nil, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "agent:session-dave", notifications[0].TargetSessionKey)
}

func TestCreateTaskMessageSLADueAtComputed(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))

	slaMs := int64(60_000)
	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob urgent", &slaMs, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.NotNil(t, notifications[0].SLADueAt)
	require.Equal(t, baseTime+slaMs, *notifications[0].SLADueAt)
}

func TestListTaskNotificationsOrderedByMessageThenNotificationTime(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))
	require.NoError(t, s.UpsertAgentAlias(ctx, "carol", "session-carol", baseTime))

	older, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob and @carol, first", nil, baseTime)
	require.NoError(t, err)
	_, err = s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob, second", nil, baseTime+100)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Len(t, notifications, 3)

	// A re-transition of the older message's notification must not jump it
	// ahead of the newer message's notification: list order tracks message
	// time, not last-updated time.
	res, err := s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: notifications[0].ID, State: store.StateDelivering,
	}, baseTime+500)
	require.NoError(t, err)
	require.Equal(t, store.TransitionUpdated, res.Status)

	reordered, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Len(t, reordered, 3)
	require.Equal(t, older.ID, reordered[0].MessageID, "the older message's notifications must still sort first")
	require.Equal(t, older.ID, reordered[1].MessageID)
	require.Equal(t, older.CreatedAt, reordered[0].MessageCreatedAt)
	require.Equal(t, older.CreatedAt, reordered[1].MessageCreatedAt)
	require.Greater(t, reordered[2].MessageCreatedAt, reordered[1].MessageCreatedAt)
}

func TestTransitionRejectsIllegalPairWithoutForce(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))
	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob hi", nil, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	id := notifications[0].ID

	// queued -> completed is not a legal direct transition.
	result, err := s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: id, State: store.StateCompleted,
	}, baseTime+1)
	require.NoError(t, err)
	require.Equal(t, store.TransitionInvalid, result.Status)

	refreshed, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Equal(t, store.StateQueued, refreshed[0].State)
}

func TestTransitionUnknownIDReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	result, err := s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: "does-not-exist", State: store.StateDelivering,
	}, baseTime)
	require.NoError(t, err)
	require.Equal(t, store.TransitionNotFound, result.Status)
}

func TestTransitionTimestampMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))
	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob hi", nil, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	id := notifications[0].ID

	attempts := 1
	res, err := s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: id, State: store.StateDelivering, Attempts: &attempts, ClearRetryAt: true, ClearError: true,
	}, baseTime+10)
	require.NoError(t, err)
	require.Equal(t, store.TransitionUpdated, res.Status)
	require.NotNil(t, res.Notification.DeliveringAt)
	firstDeliveringAt := *res.Notification.DeliveringAt

	res, err = s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: id, State: store.StateDelivered, ClearRetryAt: true, ClearError: true,
	}, baseTime+20)
	require.NoError(t, err)
	require.Equal(t, firstDeliveringAt, *res.Notification.DeliveringAt, "delivering_at must not be overwritten once set")
	require.Equal(t, baseTime+20, res.Notification.UpdatedAt)
}

func TestClaimReadyNotificationsPredicate(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))
	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob hi", nil, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	id := notifications[0].ID

	// Not yet due: retry_at in the future excludes it from the claim batch.
	// queued -> failed is not in the transition table, so the setup forces it.
	future := baseTime + 100_000
	_, err = s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: id, State: store.StateFailed, RetryAt: &future, Force: true,
	}, baseTime+1)
	require.NoError(t, err)

	batch, err := s.ClaimReadyNotifications(ctx, 20, baseTime+2)
	require.NoError(t, err)
	require.Empty(t, batch)

	batch, err = s.ClaimReadyNotifications(ctx, 20, future+1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestClaimReadyNotificationsDoesNotMutateState(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))
	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob hi", nil, baseTime)
	require.NoError(t, err)

	batch, err := s.ClaimReadyNotifications(ctx, 20, baseTime)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, store.StateQueued, batch[0].State)

	// Calling it again returns the same row: it is a read, not a claim.
	batch2, err := s.ClaimReadyNotifications(ctx, 20, baseTime)
	require.NoError(t, err)
	require.Len(t, batch2, 1)
}

func TestRetryBoundExactlyMaxAttemptsBeforeDeadLetter(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))
	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob hi", nil, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	id := notifications[0].ID

	maxAttempts := 3
	now := baseTime
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := s.TransitionNotificationState(ctx, store.TransitionParams{
			ID: id, State: store.StateDelivering, Attempts: &attempt, ClearRetryAt: true, ClearError: true, Force: true,
		}, now)
		require.NoError(t, err)
		require.Equal(t, store.TransitionUpdated, res.Status)

		if attempt < maxAttempts {
			errMsg := "transport failure"
			retryAt := now + 30_000
			res, err = s.TransitionNotificationState(ctx, store.TransitionParams{
				ID: id, State: store.StateFailed, Error: &errMsg, RetryAt: &retryAt,
			}, now+1)
			require.NoError(t, err)
			require.Equal(t, store.TransitionUpdated, res.Status)
		} else {
			errMsg := "transport failure"
			res, err = s.TransitionNotificationState(ctx, store.TransitionParams{
				ID: id, State: store.StateDeadLetter, Error: &errMsg,
			}, now+1)
			require.NoError(t, err)
			require.Equal(t, store.TransitionUpdated, res.Status)
			require.Equal(t, maxAttempts, res.Notification.Attempts)
		}
		now += 30_001
	}

	final, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Equal(t, store.StateDeadLetter, final[0].State)
	require.True(t, store.IsTerminal(final[0].State))
}

func TestSLAEscalationEndsInQueuedWithFreshRetryAt(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-bob", baseTime))
	slaMs := int64(5_000)
	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob urgent", &slaMs, baseTime)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	id := notifications[0].ID

	breachTime := baseTime + slaMs + 1
	actor := "system:delivery-worker"
	breachErr := "SLA breach"

	res, err := s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: id, State: store.StateTimeout, Force: true, ActorSessionKey: &actor, Error: &breachErr,
	}, breachTime)
	require.NoError(t, err)
	require.Equal(t, store.TransitionUpdated, res.Status)
	require.NotNil(t, res.Notification.TimeoutAt)

	res, err = s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: id, State: store.StateReassigned, Force: true,
	}, breachTime)
	require.NoError(t, err)
	require.NotNil(t, res.Notification.ReassignedAt)

	retryAt := breachTime
	res, err = s.TransitionNotificationState(ctx, store.TransitionParams{
		ID: id, State: store.StateQueued, Force: true, RetryAt: &retryAt,
	}, breachTime)
	require.NoError(t, err)
	require.Equal(t, store.StateQueued, res.Notification.State)
	require.NotNil(t, res.Notification.RetryAt)
	require.Equal(t, retryAt, *res.Notification.RetryAt)
	require.NotNil(t, res.Notification.TimeoutAt)
	require.NotNil(t, res.Notification.ReassignedAt)
}

func TestReadStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	msg1, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "first", nil, baseTime)
	require.NoError(t, err)
	_, err = s.CreateTaskMessage(ctx, "task-1", "session-alice", "second", nil, baseTime+10)
	require.NoError(t, err)

	count, err := s.GetThreadUnreadCount(ctx, "task-1", "session-bob")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	lastReadAt := msg1.CreatedAt
	require.NoError(t, s.MarkThreadReadState(ctx, "task-1", "session-bob", &msg1.ID, &lastReadAt, baseTime+5))

	count, err = s.GetThreadUnreadCount(ctx, "task-1", "session-bob")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMarkThreadReadStateFieldsIndependentlyOptional(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	msg1, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "first", nil, baseTime)
	require.NoError(t, err)

	// Advance the at-marker alone, without naming a message id.
	lastReadAt := msg1.CreatedAt
	require.NoError(t, s.MarkThreadReadState(ctx, "task-1", "session-bob", nil, &lastReadAt, baseTime+1))

	state, err := s.GetThreadReadState(ctx, "task-1", "session-bob")
	require.NoError(t, err)
	require.Nil(t, state.LastReadMessageID)
	require.NotNil(t, state.LastReadAt)
	require.Equal(t, lastReadAt, *state.LastReadAt)

	// Now attach the message id without touching the at-marker.
	require.NoError(t, s.MarkThreadReadState(ctx, "task-1", "session-bob", &msg1.ID, nil, baseTime+2))

	state, err = s.GetThreadReadState(ctx, "task-1", "session-bob")
	require.NoError(t, err)
	require.NotNil(t, state.LastReadMessageID)
	require.Equal(t, msg1.ID, *state.LastReadMessageID)
	require.NotNil(t, state.LastReadAt)
	require.Equal(t, lastReadAt, *state.LastReadAt, "the at-marker must survive an update that only supplies a message id")
}

func TestReadStateExcludesViewersOwnMessages(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "hello", nil, baseTime)
	require.NoError(t, err)

	count, err := s.GetThreadUnreadCount(ctx, "task-1", "session-alice")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestUpsertAgentAliasLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-old", baseTime))
	require.NoError(t, s.UpsertAgentAlias(ctx, "bob", "session-new", baseTime+1))

	_, err := s.CreateTaskMessage(ctx, "task-1", "session-alice", "@bob hi", nil, baseTime+2)
	require.NoError(t, err)

	notifications, err := s.ListTaskNotifications(ctx, "task-1", 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "session-new", notifications[0].TargetSessionKey)
}

func TestUpsertAgentAliasRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	s := setupStoreTest(t)

	require.Error(t, s.UpsertAgentAlias(ctx, "", "session-bob", baseTime))
	require.Error(t, s.UpsertAgentAlias(ctx, "bob", "", baseTime))
}
