package nats

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/store"
	"github.com/capitalize-ai/guarded-chat/internal/store/storetest"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

func TestTurnSubjectIsSingleToken(t *testing.T) {
	subject := TurnSubject("evt.*.>")
	assert.True(t, strings.HasPrefix(subject, TurnSubjectPrefix+"."))

	token := strings.TrimPrefix(subject, TurnSubjectPrefix+".")
	assert.NotContains(t, token, ".")
	assert.NotContains(t, token, "*")
	assert.NotContains(t, token, ">")
	assert.NotEqual(t, TurnSubject("a"), TurnSubject("b"))
}

func TestGuardrailSubject(t *testing.T) {
	assert.Equal(t, "chat.guardrail.block", GuardrailSubject(model.ActionBlock))
	assert.Equal(t, "chat.guardrail.redirect", GuardrailSubject(model.ActionRedirect))
}

func connectTest(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	client, err := Connect(context.Background(), Config{URL: url}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// resetBackend removes every stream and bucket so each run starts empty.
func resetBackend(t *testing.T, client *Client) *store.Backend {
	t.Helper()
	ctx := context.Background()
	js := client.JetStream()
	_ = js.DeleteStream(ctx, TurnStream)
	_ = js.DeleteStream(ctx, GuardrailStream)
	_ = js.DeleteKeyValue(ctx, ProfileBucket)
	_ = js.DeleteKeyValue(ctx, DomainBucket)

	streams := NewStreamManager(client, 0)
	require.NoError(t, streams.EnsureStreams(ctx))
	kv, err := NewKVStore(ctx, client)
	require.NoError(t, err)
	return Backend(client, streams, kv)
}

func TestJetStreamBackend(t *testing.T) {
	client := connectTest(t)
	require.NoError(t, client.Ping(context.Background()))

	storetest.Run(t, func(t *testing.T) *store.Backend {
		return resetBackend(t, client)
	})
}

func TestWatchDomainsReportsWrites(t *testing.T) {
	client := connectTest(t)
	backend := resetBackend(t, client)
	kv := backend.Domains.(*KVStore)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- kv.WatchDomains(ctx, func() { changes <- struct{}{} })
	}()

	// Give the watcher time to deliver the (empty) initial state.
	time.Sleep(200 * time.Millisecond)
	now := time.Now().UTC()
	require.NoError(t, kv.CreateDomain(ctx, &model.AllowedDomain{
		Keyword: "piñata", Active: true, CreatedAt: now, UpdatedAt: now,
	}))

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestPublishGuardrailEvent(t *testing.T) {
	client := connectTest(t)
	resetBackend(t, client)
	streams := NewStreamManager(client, 0)
	ctx := context.Background()

	require.NoError(t, streams.PublishGuardrailEvent(ctx, &model.GuardrailEvent{
		ID:             "evt-1",
		ConversationID: "conv-1",
		UserID:         "u1",
		Action:         model.ActionBlock,
		Reason:         model.ReasonInjection,
		CreatedAt:      time.Now().UTC(),
	}))

	stream, err := client.JetStream().Stream(ctx, GuardrailStream)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}
