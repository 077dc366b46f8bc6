package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
	"github.com/gogagureshidze/goga-network-sub001/internal/presence"
	"github.com/gogagureshidze/goga-network-sub001/internal/security"
	"github.com/gogagureshidze/goga-network-sub001/internal/service"
)

type routerFixture struct {
	convs    *MockConversationRepo
	msgs     *MockMessageRepo
	deliver  *MockDeliverer
	presence *presence.MemoryRegistry
	enc      *security.Encryptor
	router   *service.MessageRouter
}

func newRouterFixture(t *testing.T, pruner service.Pruner) *routerFixture {
	t.Helper()
	enc, err := security.NewEncryptor([]byte("test-key"), nil)
	require.NoError(t, err)

	f := &routerFixture{
		convs:    new(MockConversationRepo),
		msgs:     new(MockMessageRepo),
		deliver:  new(MockDeliverer),
		presence: presence.NewMemory(),
		enc:      enc,
	}
	f.router = service.NewMessageRouter(f.convs, f.msgs, f.presence, f.deliver, enc, pruner, zaptest.NewLogger(t))
	return f
}

func assignID(id int64) func(mock.Arguments) {
	return func(args mock.Arguments) {
		m := args.Get(1).(*domain.Message)
		m.ID = id
		m.CreatedAt = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	}
}

func withText(text string) any {
	return mock.MatchedBy(func(m *domain.Message) bool { return m.Text == text })
}

func TestRouteFirstContactDeliversToBothParties(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.presence.Register(ctx, "bob", "conn-bob"))
	require.NoError(t, f.presence.Register(ctx, "alice", "conn-alice"))

	conv := &domain.Conversation{ID: 11, UserA: "alice", UserB: "bob"}
	f.convs.On("Find", mock.Anything, "alice", "bob").Return(nil, nil).Once()
	f.convs.On("Create", mock.Anything, "alice", "bob").Return(conv, nil).Once()

	var stored *domain.Message
	f.msgs.On("Append", mock.Anything, mock.AnythingOfType("*domain.Message")).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*domain.Message)
			assignID(42)(args)
		}).Return(nil).Once()

	f.deliver.On("DeliverMessage", mock.Anything, "conn-bob", withText("hi"), "").Return(nil).Once()
	f.deliver.On("DeliverMessage", mock.Anything, "conn-alice", withText("hi"), "tmp-1").Return(nil).Once()

	res, err := f.router.Route(ctx, "conn-alice", service.SendInput{
		SenderID:   "alice",
		ReceiverID: "bob",
		Text:       "hi",
		ClientRef:  "tmp-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, int64(42), res.Message.ID)
	assert.Equal(t, int64(11), res.Message.ConversationID)
	assert.Equal(t, "alice", res.Message.SenderID)
	assert.Equal(t, "bob", res.Message.ReceiverID)
	assert.Equal(t, "hi", res.Message.Text)
	assert.False(t, res.Message.IsRead)

	// at rest the text is sealed
	require.NotNil(t, stored)
	assert.NotEqual(t, "hi", stored.Text)
	plain, err := f.enc.Decrypt(stored.Text)
	require.NoError(t, err)
	assert.Equal(t, "hi", plain)

	f.convs.AssertExpectations(t)
	f.msgs.AssertExpectations(t)
	f.deliver.AssertExpectations(t)
}

func TestRouteOfflineRecipientStillEchoes(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()

	conv := &domain.Conversation{ID: 3, UserA: "alice", UserB: "bob"}
	f.convs.On("Find", mock.Anything, "alice", "bob").Return(conv, nil).Once()
	f.msgs.On("Append", mock.Anything, mock.Anything).Run(assignID(1)).Return(nil).Once()
	f.deliver.On("DeliverMessage", mock.Anything, "conn-alice", withText("are you there"), "").Return(nil).Once()

	res, err := f.router.Route(ctx, "conn-alice", service.SendInput{
		SenderID: "alice", ReceiverID: "bob", Text: "are you there",
	})
	require.NoError(t, err)
	assert.False(t, res.Delivered)

	f.convs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	f.deliver.AssertNumberOfCalls(t, "DeliverMessage", 1)
}

func TestRoutePersistenceFailureSkipsDelivery(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.presence.Register(ctx, "bob", "conn-bob"))

	f.convs.On("Find", mock.Anything, "alice", "bob").Return(&domain.Conversation{ID: 1}, nil)
	f.msgs.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk on fire")).Once()

	res, err := f.router.Route(ctx, "conn-alice", service.SendInput{SenderID: "alice", ReceiverID: "bob", Text: "x"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	f.deliver.AssertNotCalled(t, "DeliverMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRouteConversationLookupFailure(t *testing.T) {
	f := newRouterFixture(t, nil)

	f.convs.On("Find", mock.Anything, "alice", "bob").Return(nil, errors.New("connection refused"))

	_, err := f.router.Route(context.Background(), "c", service.SendInput{SenderID: "alice", ReceiverID: "bob"})
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	f.msgs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestRouteRejectsMalformedRequests(t *testing.T) {
	f := newRouterFixture(t, nil)
	long := make([]rune, 5001)
	for i := range long {
		long[i] = 'a'
	}

	cases := map[string]service.SendInput{
		"missing sender":   {ReceiverID: "bob", Text: "hi"},
		"missing receiver": {SenderID: "alice", Text: "hi"},
		"text too long":    {SenderID: "alice", ReceiverID: "bob", Text: string(long)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.router.Route(context.Background(), "c", in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	f.convs.AssertNotCalled(t, "Find", mock.Anything, mock.Anything, mock.Anything)
	f.msgs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestRouteAcceptsEmptyBody(t *testing.T) {
	f := newRouterFixture(t, nil)

	f.convs.On("Find", mock.Anything, "alice", "bob").Return(&domain.Conversation{ID: 1}, nil)
	f.msgs.On("Append", mock.Anything, mock.Anything).Run(assignID(5)).Return(nil)
	f.deliver.On("DeliverMessage", mock.Anything, "c", withText(""), "").Return(nil)

	res, err := f.router.Route(context.Background(), "c", service.SendInput{SenderID: "alice", ReceiverID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Message.ID)
	assert.Nil(t, res.Message.MediaURL)
}

func TestRouteCreateConflictRefinds(t *testing.T) {
	f := newRouterFixture(t, nil)

	winner := &domain.Conversation{ID: 77, UserA: "bob", UserB: "alice"}
	f.convs.On("Find", mock.Anything, "alice", "bob").Return(nil, nil).Once()
	f.convs.On("Create", mock.Anything, "alice", "bob").Return(nil, domain.ErrConflict).Once()
	f.convs.On("Find", mock.Anything, "alice", "bob").Return(winner, nil).Once()
	f.msgs.On("Append", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.ConversationID == 77
	})).Run(assignID(1)).Return(nil).Once()
	f.deliver.On("DeliverMessage", mock.Anything, "c", mock.Anything, "").Return(nil)

	res, err := f.router.Route(context.Background(), "c", service.SendInput{SenderID: "alice", ReceiverID: "bob", Text: "race"})
	require.NoError(t, err)
	assert.Equal(t, int64(77), res.Message.ConversationID)
	f.convs.AssertExpectations(t)
}

func TestRouteRecipientDeliveryFailureIsNotAnError(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.presence.Register(ctx, "bob", "conn-bob"))

	f.convs.On("Find", mock.Anything, "alice", "bob").Return(&domain.Conversation{ID: 1}, nil)
	f.msgs.On("Append", mock.Anything, mock.Anything).Run(assignID(2)).Return(nil)
	f.deliver.On("DeliverMessage", mock.Anything, "conn-bob", mock.Anything, "").Return(errors.New("connection closed"))
	f.deliver.On("DeliverMessage", mock.Anything, "conn-alice", mock.Anything, "r").Return(nil).Once()

	res, err := f.router.Route(ctx, "conn-alice", service.SendInput{SenderID: "alice", ReceiverID: "bob", Text: "hi", ClientRef: "r"})
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	f.deliver.AssertExpectations(t)
}

func TestRouteSelfMessageDeliversOnce(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.presence.Register(ctx, "alice", "conn-alice"))

	f.convs.On("Find", mock.Anything, "alice", "alice").Return(&domain.Conversation{ID: 9}, nil)
	f.msgs.On("Append", mock.Anything, mock.Anything).Run(assignID(3)).Return(nil)
	f.deliver.On("DeliverMessage", mock.Anything, "conn-alice", mock.Anything, "note").Return(nil).Once()

	_, err := f.router.Route(ctx, "conn-alice", service.SendInput{SenderID: "alice", ReceiverID: "alice", Text: "memo", ClientRef: "note"})
	require.NoError(t, err)
	f.deliver.AssertNumberOfCalls(t, "DeliverMessage", 1)
}

func TestRouteRoutesToMostRecentRegistration(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.presence.Register(ctx, "carol", "carol-old"))
	require.NoError(t, f.presence.Unregister(ctx, "carol-old"))
	require.NoError(t, f.presence.Register(ctx, "carol", "carol-new"))

	f.convs.On("Find", mock.Anything, "alice", "carol").Return(&domain.Conversation{ID: 4}, nil)
	f.msgs.On("Append", mock.Anything, mock.Anything).Run(assignID(8)).Return(nil)
	f.deliver.On("DeliverMessage", mock.Anything, "carol-new", mock.Anything, "").Return(nil).Once()
	f.deliver.On("DeliverMessage", mock.Anything, "conn-alice", mock.Anything, "").Return(nil).Once()

	_, err := f.router.Route(ctx, "conn-alice", service.SendInput{SenderID: "alice", ReceiverID: "carol", Text: "hey"})
	require.NoError(t, err)
	f.deliver.AssertNotCalled(t, "DeliverMessage", mock.Anything, "carol-old", mock.Anything, mock.Anything)
	f.deliver.AssertExpectations(t)
}

func TestRouteSchedulesPruneAfterDelivery(t *testing.T) {
	msgs := new(MockMessageRepo)
	f := newRouterFixture(t, nil)
	f.msgs = msgs
	pruner := service.NewInlinePruner(msgs, 2, zaptest.NewLogger(t))
	f.router = service.NewMessageRouter(f.convs, msgs, f.presence, f.deliver, f.enc, pruner, zaptest.NewLogger(t))

	var order []string
	f.convs.On("Find", mock.Anything, "alice", "bob").Return(&domain.Conversation{ID: 6}, nil)
	msgs.On("Append", mock.Anything, mock.Anything).Run(assignID(1)).Return(nil)
	f.deliver.On("DeliverMessage", mock.Anything, "c", mock.Anything, "").
		Run(func(mock.Arguments) { order = append(order, "deliver") }).Return(nil)
	msgs.On("PruneOld", mock.Anything, int64(6), 2).
		Run(func(mock.Arguments) { order = append(order, "prune") }).Return(nil).Once()

	_, err := f.router.Route(context.Background(), "c", service.SendInput{SenderID: "alice", ReceiverID: "bob", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"deliver", "prune"}, order)
	msgs.AssertExpectations(t)
}

func TestRouteWithoutSenderConnectionSkipsEcho(t *testing.T) {
	f := newRouterFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.presence.Register(ctx, "bob", "conn-bob"))

	f.convs.On("Find", mock.Anything, "alice", "bob").Return(&domain.Conversation{ID: 1}, nil)
	f.msgs.On("Append", mock.Anything, mock.Anything).Run(assignID(4)).Return(nil)
	f.deliver.On("DeliverMessage", mock.Anything, "conn-bob", mock.Anything, "").Return(nil).Once()

	res, err := f.router.Route(ctx, "", service.SendInput{SenderID: "alice", ReceiverID: "bob", Text: "from http"})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	f.deliver.AssertNumberOfCalls(t, "DeliverMessage", 1)
}
