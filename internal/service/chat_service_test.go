package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"persona/backend/ai"
	"persona/backend/internal/branching"
	"persona/backend/internal/ledger"
	"persona/backend/internal/ledger/ledgertest"
	"persona/backend/internal/models"
	"persona/backend/internal/ws"
	"persona/backend/pkg/cache"
	apperrors "persona/backend/pkg/errors"
	"persona/backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice"
	bob   = "bob"
)

type chatFixture struct {
	svc       *ChatService
	chats     *fakeChatRepo
	personas  *fakePersonaRepo
	store     *ledgertest.Store
	responder *fakeResponder
	events    *recordingPublisher
}

func newChatFixture(t *testing.T, balance, maxDaily int) *chatFixture {
	t.Helper()
	f := &chatFixture{
		chats:     newFakeChatRepo(),
		personas:  newFakePersonaRepo(),
		store:     ledgertest.NewStore(),
		responder: &fakeResponder{reply: ai.Reply{Content: "Greetings, traveller.", Model: "gpt-test"}},
		events:    &recordingPublisher{},
	}
	f.store.Seed(models.UserTokenBalance{UserID: alice, Balance: balance})
	f.svc = NewChatService(ChatDeps{
		Chats:     f.chats,
		Personas:  f.personas,
		Ledger:    ledger.New(f.store, logger.Discard()),
		Responder: f.responder,
		Cache:     cache.NewMemory(cache.Options{DefaultExpiration: time.Minute}),
		Events:    f.events,
		Pricing:   Pricing{ChatMessageCost: 1, MaxDailyFree: maxDaily},
	})
	return f
}

func (f *chatFixture) balance(t *testing.T) int {
	t.Helper()
	row, ok := f.store.Row(alice)
	require.True(t, ok)
	return row.Balance
}

func (f *chatFixture) newChat(t *testing.T, personaID *uuid.UUID) *models.Chat {
	t.Helper()
	chat, err := f.svc.CreateChat(context.Background(), alice, "Adventure", personaID)
	require.NoError(t, err)
	return chat
}

func TestSendMessageChargesBalanceAndReplies(t *testing.T) {
	f := newChatFixture(t, 5, 0)
	ctx := context.Background()

	persona := &models.Persona{OwnerID: alice, Title: "Vex"}
	require.NoError(t, f.personas.Create(ctx, persona, &models.PersonaVersion{Name: "Captain Vex"}))
	chat := f.newChat(t, &persona.ID)

	res, err := f.svc.SendMessage(ctx, alice, chat.ID, nil, "Hello there")
	require.NoError(t, err)

	assert.Equal(t, ledger.SourceBalance, res.Charge.Source)
	assert.Equal(t, 4, res.Charge.BalanceAfter)
	assert.Equal(t, 4, f.balance(t))

	assert.Equal(t, models.RoleUser, res.UserMessage.Role)
	assert.Nil(t, res.UserMessage.ParentID)
	assert.Equal(t, models.RoleAssistant, res.AssistantMessage.Role)
	assert.Equal(t, "Greetings, traveller.", res.AssistantMessage.Content)
	assert.Equal(t, "gpt-test", res.AssistantMessage.Model)
	require.NotNil(t, res.AssistantMessage.ParentID)
	assert.Equal(t, res.UserMessage.ID, *res.AssistantMessage.ParentID)

	require.NotNil(t, f.responder.persona)
	assert.Equal(t, "Captain Vex", f.responder.persona.Name)
	require.Len(t, f.responder.history, 1)
	assert.Equal(t, res.UserMessage.ID, f.responder.history[0].ID)

	assert.Equal(t, []string{ws.EventMessageCreated, ws.EventMessageCreated}, f.events.types())
}

func TestSendMessageSendsPathToModel(t *testing.T) {
	f := newChatFixture(t, 10, 0)
	ctx := context.Background()
	chat := f.newChat(t, nil)

	first, err := f.svc.SendMessage(ctx, alice, chat.ID, nil, "one")
	require.NoError(t, err)
	// a sibling branch that must not reach the model
	_, err = f.svc.AppendMessage(ctx, alice, chat.ID, nil, models.RoleUser, "other root")
	require.NoError(t, err)

	second, err := f.svc.SendMessage(ctx, alice, chat.ID, &first.AssistantMessage.ID, "two")
	require.NoError(t, err)

	ids := make([]uuid.UUID, len(f.responder.history))
	for i, m := range f.responder.history {
		ids[i] = m.ID
	}
	assert.Equal(t, []uuid.UUID{first.UserMessage.ID, first.AssistantMessage.ID, second.UserMessage.ID}, ids)
	assert.Nil(t, f.responder.persona)
}

func TestSendMessageUsesDailyAllowanceFirst(t *testing.T) {
	f := newChatFixture(t, 5, 20)
	chat := f.newChat(t, nil)

	res, err := f.svc.SendMessage(context.Background(), alice, chat.ID, nil, "hi")
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceDailyFree, res.Charge.Source)
	assert.Equal(t, 5, f.balance(t))

	row, _ := f.store.Row(alice)
	assert.Equal(t, 1, row.DailyTokensUsed)
}

func TestSendMessageInsufficientTokensWritesNothing(t *testing.T) {
	f := newChatFixture(t, 0, 0)
	ctx := context.Background()
	chat := f.newChat(t, nil)

	_, err := f.svc.SendMessage(ctx, alice, chat.ID, nil, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientTokens)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
	assert.Equal(t, 402, apperrors.FromDomain(err).StatusCode)

	messages, err := f.chats.ListMessages(ctx, alice, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Empty(t, f.events.types())
}

func TestSendMessageRefundsWhenReplyFails(t *testing.T) {
	f := newChatFixture(t, 3, 0)
	f.responder.err = errBoom
	ctx := context.Background()
	chat := f.newChat(t, nil)

	_, err := f.svc.SendMessage(ctx, alice, chat.ID, nil, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Equal(t, 3, f.balance(t))

	messages, err := f.chats.ListMessages(ctx, alice, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.RoleUser, messages[0].Role)
}

func TestSendMessageRefundsWhenReplyNotStored(t *testing.T) {
	f := newChatFixture(t, 3, 0)
	f.chats.failAppend = func(m *models.Message) error {
		if m.Role == models.RoleAssistant {
			return errBoom
		}
		return nil
	}
	ctx := context.Background()
	chat := f.newChat(t, nil)

	_, err := f.svc.SendMessage(ctx, alice, chat.ID, nil, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, f.balance(t))

	messages, err := f.chats.ListMessages(ctx, alice, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.RoleUser, messages[0].Role)
}

func TestSendMessageRefundsDailyAllowance(t *testing.T) {
	f := newChatFixture(t, 3, 20)
	f.responder.err = errBoom
	chat := f.newChat(t, nil)

	_, err := f.svc.SendMessage(context.Background(), alice, chat.ID, nil, "hi")
	require.Error(t, err)

	row, _ := f.store.Row(alice)
	assert.Equal(t, 0, row.DailyTokensUsed)
	assert.Equal(t, 3, row.Balance)
}

func TestSendMessageRejectsForeignParent(t *testing.T) {
	f := newChatFixture(t, 3, 0)
	ctx := context.Background()
	chat := f.newChat(t, nil)
	stranger := uuid.New()

	_, err := f.svc.SendMessage(ctx, alice, chat.ID, &stranger, "hi")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, 3, f.balance(t))
}

func TestSendMessageOtherUsersChat(t *testing.T) {
	f := newChatFixture(t, 3, 0)
	chat := f.newChat(t, nil)

	_, err := f.svc.SendMessage(context.Background(), bob, chat.ID, nil, "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 3, f.balance(t))
}

func TestAppendMessageValidation(t *testing.T) {
	f := newChatFixture(t, 0, 0)
	ctx := context.Background()
	chat := f.newChat(t, nil)

	_, err := f.svc.AppendMessage(ctx, alice, chat.ID, nil, "narrator", "hi")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.svc.AppendMessage(ctx, alice, chat.ID, nil, models.RoleUser, "   ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	stranger := uuid.New()
	_, err = f.svc.AppendMessage(ctx, alice, chat.ID, &stranger, models.RoleUser, "hi")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestListBranchesIsInvalidatedOnWrite(t *testing.T) {
	f := newChatFixture(t, 0, 0)
	ctx := context.Background()
	chat := f.newChat(t, nil)

	root, err := f.svc.AppendMessage(ctx, alice, chat.ID, nil, models.RoleUser, "root")
	require.NoError(t, err)
	_, err = f.svc.AppendMessage(ctx, alice, chat.ID, &root.ID, models.RoleAssistant, "a")
	require.NoError(t, err)

	branches, err := f.svc.ListBranches(ctx, alice, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, branches)

	second, err := f.svc.AppendMessage(ctx, alice, chat.ID, &root.ID, models.RoleAssistant, "b")
	require.NoError(t, err)

	branches, err = f.svc.ListBranches(ctx, alice, chat.ID)
	require.NoError(t, err)
	children := branches[branching.MessageKey(root.ID)]
	require.Len(t, children, 2)
	assert.Equal(t, second.ID, children[1].ID)

	// served from cache on the next call
	branches, err = f.svc.ListBranches(ctx, alice, chat.ID)
	require.NoError(t, err)
	assert.Len(t, branches[branching.MessageKey(root.ID)], 2)

	require.NoError(t, f.svc.DeleteMessage(ctx, alice, chat.ID, second.ID))
	branches, err = f.svc.ListBranches(ctx, alice, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, branches)
	assert.Equal(t, ws.EventMessageDeleted, f.events.types()[len(f.events.types())-1])
}

// writeDuringList runs a write once, after ListMessages has read the chat
type writeDuringList struct {
	*fakeChatRepo
	write func()
}

func (r *writeDuringList) ListMessages(ctx context.Context, userID string, chatID uuid.UUID) ([]models.Message, error) {
	messages, err := r.fakeChatRepo.ListMessages(ctx, userID, chatID)
	if w := r.write; w != nil {
		r.write = nil
		w()
	}
	return messages, err
}

func TestListBranchesDoesNotCacheOverConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	chats := &writeDuringList{fakeChatRepo: newFakeChatRepo()}
	svc := NewChatService(ChatDeps{
		Chats:    chats,
		Personas: newFakePersonaRepo(),
		Ledger:   ledger.New(ledgertest.NewStore(), logger.Discard()),
		Cache:    cache.NewMemory(cache.Options{DefaultExpiration: time.Minute}),
	})

	chat, err := svc.CreateChat(ctx, alice, "Adventure", nil)
	require.NoError(t, err)
	first, err := svc.AppendMessage(ctx, alice, chat.ID, nil, models.RoleUser, "one")
	require.NoError(t, err)

	var second *models.Message
	chats.write = func() {
		var werr error
		second, werr = svc.AppendMessage(ctx, alice, chat.ID, nil, models.RoleUser, "two")
		require.NoError(t, werr)
	}

	// computed from the read before the write
	branches, err := svc.ListBranches(ctx, alice, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, branches)

	branches, err = svc.ListBranches(ctx, alice, chat.ID)
	require.NoError(t, err)
	roots := branches[branching.RootKey()]
	require.Len(t, roots, 2)
	assert.Equal(t, first.ID, roots[0].ID)
	assert.Equal(t, second.ID, roots[1].ID)
}

func TestListBranchesChecksOwnershipBeforeCache(t *testing.T) {
	f := newChatFixture(t, 0, 0)
	ctx := context.Background()
	chat := f.newChat(t, nil)

	_, err := f.svc.ListBranches(ctx, alice, chat.ID)
	require.NoError(t, err)

	_, err = f.svc.ListBranches(ctx, bob, chat.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolvePath(t *testing.T) {
	f := newChatFixture(t, 0, 0)
	ctx := context.Background()
	chat := f.newChat(t, nil)

	root, err := f.svc.AppendMessage(ctx, alice, chat.ID, nil, models.RoleUser, "root")
	require.NoError(t, err)
	older, err := f.svc.AppendMessage(ctx, alice, chat.ID, &root.ID, models.RoleAssistant, "older")
	require.NoError(t, err)
	newer, err := f.svc.AppendMessage(ctx, alice, chat.ID, &root.ID, models.RoleAssistant, "newer")
	require.NoError(t, err)

	path, err := f.svc.ResolvePath(ctx, alice, chat.ID, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, path.LeafID)
	assert.Equal(t, newer.ID, *path.LeafID)
	assert.Len(t, path.Messages, 2)

	path, err = f.svc.ResolvePath(ctx, alice, chat.ID, &older.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, older.ID, *path.LeafID)

	path, err = f.svc.ResolvePath(ctx, alice, chat.ID, nil, 1)
	require.NoError(t, err)
	require.Len(t, path.Messages, 1)
	assert.Equal(t, root.ID, path.Messages[0].ID)
	assert.Equal(t, newer.ID, *path.LeafID)

	missing := uuid.New()
	_, err = f.svc.ResolvePath(ctx, alice, chat.ID, &missing, 0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.ResolvePath(ctx, alice, chat.ID, nil, -1)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCreateChatWithInvisiblePersona(t *testing.T) {
	f := newChatFixture(t, 0, 0)
	ctx := context.Background()

	persona := &models.Persona{OwnerID: bob, Title: "Private", Visibility: models.VisibilityPrivate}
	require.NoError(t, f.personas.Create(ctx, persona, &models.PersonaVersion{Name: "P"}))

	_, err := f.svc.CreateChat(ctx, alice, "Chat", &persona.ID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.CreateChat(ctx, alice, "  ", nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRenameAndDeleteChat(t *testing.T) {
	f := newChatFixture(t, 0, 0)
	ctx := context.Background()
	chat := f.newChat(t, nil)

	renamed, err := f.svc.RenameChat(ctx, alice, chat.ID, " Sequel ")
	require.NoError(t, err)
	assert.Equal(t, "Sequel", renamed.Title)

	_, err = f.svc.RenameChat(ctx, bob, chat.ID, "Mine")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.ErrorIs(t, f.svc.DeleteChat(ctx, bob, chat.ID), apperrors.ErrNotFound)
	require.NoError(t, f.svc.DeleteChat(ctx, alice, chat.ID))
	_, err = f.svc.GetChat(ctx, alice, chat.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
