// ABOUTME: Tests for chat turns, model listing, selection and admin grants
// ABOUTME: Runs the service against the mock store and scripted executor

package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/orchat-gateway/internal/apperr"
	"github.com/2389/orchat-gateway/internal/catalog"
	"github.com/2389/orchat-gateway/internal/llm"
	"github.com/2389/orchat-gateway/internal/prefs"
	"github.com/2389/orchat-gateway/internal/store"
)

type testEnv struct {
	svc   *Service
	store *store.MockStore
	exec  *llm.MockExecutor
	prefs *prefs.Registry
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	cat, err := catalog.New([]string{"m-free", "m-pro", "m-max"}, []string{"m-free"}, "m-free")
	require.NoError(t, err)

	s := store.NewMockStore()
	reg := prefs.NewRegistry(s, nil)
	exec := llm.NewMockExecutor()
	svc := New(s, reg, cat, exec, nil)
	t.Cleanup(svc.Close)

	return &testEnv{svc: svc, store: s, exec: exec, prefs: reg}
}

func (e *testEnv) makeAdmin(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, e.store.AddRole(context.Background(), userID, store.RoleAdmin))
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "got %v", err)
}

func TestSend_TemporaryContext(t *testing.T) {
	env := setupService(t)
	env.exec.Reply("hi")

	turn, err := env.svc.Send(context.Background(), SendRequest{UserID: "u1", Text: "hello"})
	require.NoError(t, err)

	assert.True(t, turn.Temporary())
	assert.Equal(t, "m-free", turn.Model, "catalog default")
	assert.Equal(t, []store.ContextMessage{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "hi"},
	}, turn.Messages)
}

func TestSend_RoundTripThroughContext(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.CreateContext(ctx, CreateContextRequest{UserID: "u1", ID: "c1"})
	require.NoError(t, err)

	env.exec.Reply("hi").Reply("fine")
	turn, err := env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "hello", ContextID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", turn.ContextID)

	stored, err := env.svc.ShowContext(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []store.ContextMessage{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "hi"},
	}, stored.Messages)

	// Second turn sends the whole history
	_, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "how are you", ContextID: "c1"})
	require.NoError(t, err)
	calls := env.exec.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1].Messages, 3)

	stored, err = env.svc.ShowContext(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, stored.Messages, 4)
	assert.Equal(t, "fine", stored.Messages[3].Content)
}

func TestSend_ExternalFailureLeavesContextUntouched(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.CreateContext(ctx, CreateContextRequest{UserID: "u1", ID: "c1"})
	require.NoError(t, err)
	env.exec.Reply("hi")
	_, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "hello", ContextID: "c1"})
	require.NoError(t, err)

	env.exec.Fail(errors.New("timeout"))
	_, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "are you there", ContextID: "c1"})
	requireKind(t, err, apperr.ExternalCallFailed)
	assert.Equal(t, "The model provider failed to answer, nothing was saved.", apperr.Message(err))

	stored, err := env.svc.ShowContext(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2, "unanswered user turn must not be persisted")
}

func TestSend_CanceledCallIsExternalFailure(t *testing.T) {
	env := setupService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "hello"})
	requireKind(t, err, apperr.ExternalCallFailed)
}

func TestSend_ExplicitContextErrors(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.CreateContext(ctx, CreateContextRequest{UserID: "u1", ID: "c1"})
	require.NoError(t, err)

	_, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "x", ContextID: "missing"})
	requireKind(t, err, apperr.NotFound)

	_, err = env.svc.Send(ctx, SendRequest{UserID: "u2", Text: "x", ContextID: "c1"})
	requireKind(t, err, apperr.WrongOwner)

	assert.Empty(t, env.exec.Calls(), "no external call on failed resolution")
}

func TestSend_UsesAndClearsDanglingDefaultContext(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.CreateContext(ctx, CreateContextRequest{UserID: "u1", ID: "c1", Select: true})
	require.NoError(t, err)

	env.exec.Reply("hi")
	turn, err := env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "c1", turn.ContextID, "default context is used")

	// Delete behind the service's back to leave a dangling reference
	require.NoError(t, env.store.DeleteContext(ctx, "c1"))

	env.exec.Reply("still here")
	turn, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "hello again"})
	require.NoError(t, err)
	assert.True(t, turn.Temporary())
	assert.Len(t, turn.Messages, 2)

	pref, err := env.svc.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, pref.DefaultContext)

	persisted, err := env.store.GetPreference(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, persisted.DefaultContext)
}

func TestSend_ClearsDefaultContextTakenByAnotherUser(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.CreateContext(ctx, CreateContextRequest{UserID: "u1", ID: "x", Select: true})
	require.NoError(t, err)

	// u1's default dangles, then u2 reuses the id
	require.NoError(t, env.store.DeleteContext(ctx, "x"))
	_, err = env.svc.CreateContext(ctx, CreateContextRequest{UserID: "u2", ID: "x"})
	require.NoError(t, err)

	env.exec.Reply("hi")
	turn, err := env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "hello"})
	require.NoError(t, err)
	assert.True(t, turn.Temporary())

	pref, err := env.svc.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, pref.DefaultContext)

	// Naming the context explicitly is still an ownership error
	_, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "hello", ContextID: "x"})
	requireKind(t, err, apperr.WrongOwner)

	c, err := env.store.GetContext(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "u2", c.Owner)
	assert.Empty(t, c.Messages, "u1's turns never touch u2's context")
}

func TestSend_ModelPrecedence(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.makeAdmin(t, "admin")
	require.NoError(t, env.svc.AuthorizeModel(ctx, "admin", "u1", "m-pro", true))
	require.NoError(t, env.svc.AuthorizeModel(ctx, "admin", "u1", "m-max", true))

	// User default beats catalog default
	require.NoError(t, env.svc.SelectModel(ctx, "u1", "m-pro"))
	turn, err := env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "a"})
	require.NoError(t, err)
	assert.Equal(t, "m-pro", turn.Model)

	// Context model beats user default
	_, err = env.svc.CreateContext(ctx, CreateContextRequest{UserID: "u1", ID: "c1", Model: "m-max"})
	require.NoError(t, err)
	turn, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "b", ContextID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "m-max", turn.Model)

	// Explicit beats context, without changing the stored model
	turn, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "c", ContextID: "c1", Model: "m-free"})
	require.NoError(t, err)
	assert.Equal(t, "m-free", turn.Model)

	stored, err := env.svc.ShowContext(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "m-max", stored.Model)
	assert.Len(t, stored.Messages, 4)
}

func TestSend_ModelChecks(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "x", Model: "m-unknown"})
	requireKind(t, err, apperr.UnknownModel)

	_, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "x", Model: "m-pro"})
	requireKind(t, err, apperr.Unauthorized)

	assert.Empty(t, env.exec.Calls())
}

func TestSend_InvalidArguments(t *testing.T) {
	env := setupService(t)

	_, err := env.svc.Send(context.Background(), SendRequest{UserID: "u1", Text: "   "})
	requireKind(t, err, apperr.InvalidArgument)

	_, err = env.svc.Send(context.Background(), SendRequest{Text: "hi"})
	requireKind(t, err, apperr.InvalidArgument)
}

func TestSend_StorageFailureIsInternal(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.CreateContext(ctx, CreateContextRequest{UserID: "u1", ID: "c1"})
	require.NoError(t, err)

	env.store.UpdateContextErr = errors.New("disk full")
	_, err = env.svc.Send(ctx, SendRequest{UserID: "u1", Text: "x", ContextID: "c1"})
	requireKind(t, err, apperr.Internal)
	assert.Equal(t, "Internal error.", apperr.Message(err))
}

func TestListModels(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.makeAdmin(t, "admin")
	require.NoError(t, env.svc.AuthorizeModel(ctx, "admin", "u1", "m-pro", true))
	require.NoError(t, env.svc.SelectModel(ctx, "u1", "m-pro"))

	all, err := env.svc.ListModels(ctx, "u1", ModelFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"m-free", "m-max", "m-pro"}, modelIDs(all), "sorted by id")

	byID := map[string]ModelInfo{}
	for _, m := range all {
		byID[m.ID] = m
	}
	assert.True(t, byID["m-free"].Public)
	assert.True(t, byID["m-free"].CatalogDefault)
	assert.True(t, byID["m-pro"].UserDefault)
	assert.True(t, byID["m-pro"].Allowed)
	assert.False(t, byID["m-max"].Allowed)

	allowed, err := env.svc.ListModels(ctx, "u1", ModelFilter{AllowedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"m-free", "m-pro"}, modelIDs(allowed))

	public := true
	pub, err := env.svc.ListModels(ctx, "u1", ModelFilter{Public: &public})
	require.NoError(t, err)
	assert.Equal(t, []string{"m-free"}, modelIDs(pub))

	notPublic := false
	priv, err := env.svc.ListModels(ctx, "u1", ModelFilter{Public: &notPublic, Substring: "ma"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m-max"}, modelIDs(priv))
}

func modelIDs(models []ModelInfo) []string {
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestSelectModel(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	requireKind(t, env.svc.SelectModel(ctx, "u1", "m-unknown"), apperr.UnknownModel)
	requireKind(t, env.svc.SelectModel(ctx, "u1", "m-pro"), apperr.Unauthorized)

	require.NoError(t, env.svc.SelectModel(ctx, "u1", "m-free"))
	pref, err := env.svc.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "m-free", pref.DefaultModelID())
}

func TestAuthorizeModel(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.makeAdmin(t, "admin")

	requireKind(t, env.svc.AuthorizeModel(ctx, "u2", "u1", "m-pro", true), apperr.PermissionDenied)
	requireKind(t, env.svc.AuthorizeModel(ctx, "admin", "u1", "m-unknown", true), apperr.UnknownModel)
	requireKind(t, env.svc.AuthorizeModel(ctx, "admin", "", "m-pro", true), apperr.InvalidArgument)

	require.NoError(t, env.svc.AuthorizeModel(ctx, "admin", "u1", "m-pro", true))
	require.NoError(t, env.svc.AuthorizeModel(ctx, "admin", "u1", "m-pro", true))
	pref, err := env.svc.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-pro"}, pref.AvailableModels)

	require.NoError(t, env.svc.AuthorizeModel(ctx, "admin", "u1", "m-pro", false))
	pref, err = env.svc.Preference(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pref.AvailableModels)

	entries, err := env.store.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, store.AuditRevokeModel, entries[0].Action)
	assert.Equal(t, store.AuditGrantModel, entries[1].Action)
	assert.Equal(t, "u1", entries[0].TargetID)
	assert.Equal(t, "m-pro", entries[0].Detail["model"])
}

func TestAuthorizeModel_ConcurrentGrants(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	env.makeAdmin(t, "admin")

	var wg sync.WaitGroup
	for _, m := range []string{"m-pro", "m-max"} {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(m string) {
				defer wg.Done()
				assert.NoError(t, env.svc.AuthorizeModel(ctx, "admin", "u1", m, true))
			}(m)
		}
	}
	wg.Wait()

	persisted, err := env.store.GetPreference(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m-pro", "m-max"}, persisted.AvailableModels)
}
