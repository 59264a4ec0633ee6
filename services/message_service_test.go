package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"nextcompete-api/models"
)

func newMessaging(t *testing.T) (*MessageService, *recordingNotifier, *time.Time) {
	t.Helper()
	db := newTestDB(t)
	users := NewUserService(db)
	for _, p := range []Principal{
		{UserID: 30, Email: "alice@example.com", Name: "Alice", RoleID: models.RoleParticipant},
		{UserID: 40, Email: "bob@example.com", Name: "Bob", RoleID: models.RoleParticipant},
		{UserID: 50, Email: "carol@example.com", Name: "Carol", RoleID: models.RoleJudge},
	} {
		if err := users.Sync(context.Background(), p); err != nil {
			t.Fatalf("sync: %v", err)
		}
	}
	rec := &recordingNotifier{}
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := NewMessageService(db, rec).WithClock(func() time.Time { return now })
	return svc, rec, &now
}

var (
	msgAlice = Principal{UserID: 30, Name: "Alice", RoleID: models.RoleParticipant}
	msgBob   = Principal{UserID: 40, Name: "Bob", RoleID: models.RoleParticipant}
	msgCarol = Principal{UserID: 50, Name: "Carol", RoleID: models.RoleJudge}
)

func TestFindOrCreateIsSymmetric(t *testing.T) {
	svc, _, _ := newMessaging(t)
	ctx := context.Background()
	a, err := svc.FindOrCreate(ctx, msgAlice, 40, nil)
	if err != nil {
		t.Fatalf("alice: %v", err)
	}
	b, err := svc.FindOrCreate(ctx, msgBob, 30, nil)
	if err != nil {
		t.Fatalf("bob: %v", err)
	}
	if a.ConversationID != b.ConversationID || a.UserLowID != 30 || a.UserHighID != 40 {
		t.Fatalf("expected one shared conversation: %+v %+v", a, b)
	}

	if _, err := svc.FindOrCreate(ctx, msgAlice, 30, nil); !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
	if _, err := svc.FindOrCreate(ctx, msgAlice, 999, nil); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSendAndPollMessages(t *testing.T) {
	svc, rec, now := newMessaging(t)
	ctx := context.Background()
	conv, _ := svc.FindOrCreate(ctx, msgAlice, 40, nil)

	first, err := svc.Send(ctx, msgAlice, conv.ConversationID, "  hello bob  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if first.Body != "hello bob" {
		t.Fatalf("body should be trimmed, got %q", first.Body)
	}
	*now = now.Add(time.Minute)
	if _, err := svc.Send(ctx, msgBob, conv.ConversationID, "hi alice"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	all, err := svc.ListMessages(ctx, msgBob, conv.ConversationID, 0, 0)
	if err != nil || len(all) != 2 || all[0].Body != "hello bob" {
		t.Fatalf("list: %+v %v", all, err)
	}
	newer, err := svc.ListMessages(ctx, msgBob, conv.ConversationID, first.MessageID, 0)
	if err != nil || len(newer) != 1 || newer[0].Body != "hi alice" {
		t.Fatalf("poll after first: %+v %v", newer, err)
	}

	got := rec.byEvent(EventMessageReceived)
	if len(got) != 2 || got[0].UserID != 40 || got[0].Data["sender"] != "Alice" || got[1].UserID != 30 {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}

func TestSendValidatesBody(t *testing.T) {
	svc, _, _ := newMessaging(t)
	ctx := context.Background()
	conv, _ := svc.FindOrCreate(ctx, msgAlice, 40, nil)

	if _, err := svc.Send(ctx, msgAlice, conv.ConversationID, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.Send(ctx, msgAlice, conv.ConversationID, strings.Repeat("x", MaxMessageLength+1)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if _, err := svc.Send(ctx, msgCarol, conv.ConversationID, "let me in"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := svc.ListMessages(ctx, msgCarol, conv.ConversationID, 0, 0); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsiders cannot read, got %v", err)
	}
}

func TestConversationsUnreadAndMarkRead(t *testing.T) {
	svc, _, now := newMessaging(t)
	ctx := context.Background()
	withBob, _ := svc.FindOrCreate(ctx, msgAlice, 40, nil)
	withCarol, _ := svc.FindOrCreate(ctx, msgAlice, 50, nil)

	svc.Send(ctx, msgBob, withBob.ConversationID, "one")
	svc.Send(ctx, msgBob, withBob.ConversationID, "two")
	*now = now.Add(time.Hour)
	svc.Send(ctx, msgCarol, withCarol.ConversationID, "latest")

	convs, err := svc.ListConversations(ctx, msgAlice)
	if err != nil || len(convs) != 2 {
		t.Fatalf("list conversations: %+v %v", convs, err)
	}
	if convs[0].ConversationID != withCarol.ConversationID || convs[0].OtherUserID != 50 {
		t.Fatalf("most recent conversation first: %+v", convs[0])
	}
	if convs[1].UnreadCount != 2 || convs[1].LastMessage == nil || convs[1].LastMessage.Body != "two" {
		t.Fatalf("unexpected bob conversation view: %+v", convs[1])
	}

	changed, err := svc.MarkRead(ctx, msgAlice, withBob.ConversationID)
	if err != nil || changed != 2 {
		t.Fatalf("mark read: %d %v", changed, err)
	}
	if changed, _ := svc.MarkRead(ctx, msgAlice, withBob.ConversationID); changed != 0 {
		t.Fatalf("second mark read changed %d", changed)
	}
	// the sender's own messages are never marked by the sender
	if changed, _ := svc.MarkRead(ctx, msgBob, withBob.ConversationID); changed != 0 {
		t.Fatalf("bob has nothing to read, changed %d", changed)
	}
}
