// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/capsule-engine/internal/capsule"
	"github.com/pdiddy/capsule-engine/internal/correlate"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

func newBus(t *testing.T) *LocalBus {
	t.Helper()
	b := NewLocalBus(nil)
	t.Cleanup(b.Close)
	return b
}

// inbox registers addr on b and returns the channel its envelopes land on.
func inbox(t *testing.T, b *LocalBus, addr string) chan types.Envelope {
	t.Helper()
	ch := make(chan types.Envelope, 16)
	require.NoError(t, b.Register(addr, func(_ context.Context, env types.Envelope) { ch <- env }))
	return ch
}

func receive(t *testing.T, ch chan types.Envelope) types.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return types.Envelope{}
	}
}

func textEnvelope(from, to, session, text string) types.Envelope {
	return types.Envelope{
		ID:        from + "-" + text,
		Sender:    from,
		Recipient: to,
		SessionID: session,
		Contents:  []types.Content{types.TextContent{Text: text}},
	}
}

// --- LocalBus ---

func TestLocalBusDelivers(t *testing.T) {
	b := newBus(t)
	ch := inbox(t, b, "alice")

	require.NoError(t, b.Send(context.Background(), textEnvelope("bob", "alice", "", "hi")))
	assert.Equal(t, "hi", receive(t, ch).Text())
}

func TestLocalBusErrors(t *testing.T) {
	b := NewLocalBus(nil)
	inbox(t, b, "alice")

	err := b.Register("alice", func(context.Context, types.Envelope) {})
	assert.Error(t, err)

	err = b.Send(context.Background(), textEnvelope("bob", "nobody", "", "hi"))
	assert.True(t, errors.Is(err, ErrUnknownAddress))

	b.Close()
	b.Close()
	assert.ErrorIs(t, b.Send(context.Background(), textEnvelope("bob", "alice", "", "hi")), ErrBusClosed)
	assert.ErrorIs(t, b.Register("carol", func(context.Context, types.Envelope) {}), ErrBusClosed)
}

func TestLocalBusOneHandlerAtATimePerAddress(t *testing.T) {
	b := newBus(t)
	var (
		running, peak atomic.Int32
		wg            sync.WaitGroup
	)
	const n = 10
	wg.Add(n)
	require.NoError(t, b.Register("worker", func(context.Context, types.Envelope) {
		defer wg.Done()
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
	}))

	var senders sync.WaitGroup
	for range n {
		senders.Add(1)
		go func() {
			defer senders.Done()
			assert.NoError(t, b.Send(context.Background(), textEnvelope("x", "worker", "", "job")))
		}()
	}
	senders.Wait()
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

// --- Router ---

// echoWorker replies to each request after a short delay, quoting its text.
func echoWorker(b *LocalBus) HandlerFunc {
	return func(ctx context.Context, env types.Envelope) {
		time.Sleep(5 * time.Millisecond)
		reply := textEnvelope(env.Recipient, env.Sender, env.SessionID, "echo: "+env.Text())
		_ = b.Send(ctx, reply)
	}
}

func TestRouterConcurrentRequestsReachOwnOriginators(t *testing.T) {
	b := newBus(t)
	corr := correlate.New()
	router := NewRouter(b, corr, nil)
	require.NoError(t, b.Register(RouterAddress, router.Handle))
	require.NoError(t, b.Register(PipelineAddress, echoWorker(b)))
	alice := inbox(t, b, "alice")
	bob := inbox(t, b, "bob")

	var wg sync.WaitGroup
	for _, who := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Send(context.Background(), textEnvelope(who, RouterAddress, "", who+"'s question")))
		}()
	}
	wg.Wait()

	a := receive(t, alice)
	assert.Equal(t, "echo: alice's question", a.Text())
	assert.Equal(t, RouterAddress, a.Sender)
	assert.Equal(t, "echo: bob's question", receive(t, bob).Text())
	assert.Eventually(t, func() bool { return corr.Pending(PipelineAddress) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRouterSessionsWinOverOrder(t *testing.T) {
	b := &recordingBus{}
	corr := correlate.New()
	router := NewRouter(b, corr, nil)
	ctx := context.Background()

	router.Handle(ctx, textEnvelope("alice", RouterAddress, "s-a", "first"))
	router.Handle(ctx, textEnvelope("bob", RouterAddress, "s-b", "second"))
	require.Len(t, b.sent, 2)
	fwd := b.sent[0]
	assert.Equal(t, PipelineAddress, fwd.Recipient)
	assert.Equal(t, "alice", fwd.Metadata()[types.MetaOriginalSender])
	assert.Equal(t, "s-a", fwd.Metadata()[types.MetaSessionID])

	// bob's reply comes back first
	router.Handle(ctx, textEnvelope(PipelineAddress, RouterAddress, "s-b", "for bob"))
	router.Handle(ctx, textEnvelope(PipelineAddress, RouterAddress, "s-a", "for alice"))
	require.Len(t, b.sent, 4)
	assert.Equal(t, "bob", b.sent[2].Recipient)
	assert.Equal(t, "alice", b.sent[3].Recipient)
	assert.Equal(t, 0, corr.Pending(PipelineAddress))
	assert.Equal(t, 0, corr.Sessions())
}

func TestRouterDropsUncorrelatedReply(t *testing.T) {
	b := &recordingBus{}
	router := NewRouter(b, correlate.New(), nil)

	router.Handle(context.Background(), textEnvelope(PipelineAddress, RouterAddress, "", "orphan"))
	assert.Empty(t, b.sent)
}

func TestRouterIgnoresEmptyAndEndsSessions(t *testing.T) {
	b := &recordingBus{}
	corr := correlate.New()
	router := NewRouter(b, corr, nil)
	ctx := context.Background()

	router.Handle(ctx, types.Envelope{Sender: "alice", SessionID: "s", Contents: []types.Content{types.StartSession{}}})
	assert.Empty(t, b.sent)

	router.Handle(ctx, textEnvelope("alice", RouterAddress, "s", "question"))
	assert.Equal(t, 1, corr.Sessions())

	router.Handle(ctx, types.Envelope{Sender: "alice", SessionID: "s", Contents: []types.Content{types.EndSession{}}})
	assert.Equal(t, 0, corr.Sessions())
	assert.Len(t, b.sent, 1)

	router.Reset()
	assert.Equal(t, 0, corr.Pending(PipelineAddress))
}

func TestRouterForwardFailureUndoesRegistration(t *testing.T) {
	b := &recordingBus{err: ErrUnknownAddress}
	corr := correlate.New()
	router := NewRouter(b, corr, nil)

	router.Handle(context.Background(), textEnvelope("alice", RouterAddress, "s", "question"))
	assert.Equal(t, 0, corr.Pending(PipelineAddress))
	assert.Equal(t, 0, corr.Sessions())
}

func TestRouterSendsActionsToCapsuleWorker(t *testing.T) {
	store, err := capsule.Open(capsule.Options{Dir: t.TempDir()})
	require.NoError(t, err)

	b := newBus(t)
	router := NewRouter(b, correlate.New(), nil)
	require.NoError(t, b.Register(RouterAddress, router.Handle))
	require.NoError(t, b.Register(CapsuleAddress, CapsuleAgent(capsule.NewHandler(store, nil, 0, nil), b, nil)))
	user := inbox(t, b, "user")

	require.NoError(t, b.Send(context.Background(), types.Envelope{
		Sender:    "user",
		Recipient: RouterAddress,
		Contents: []types.Content{types.MetadataContent{Metadata: map[string]string{
			types.MetaAction: types.ActionList,
		}}},
	}))
	assert.Contains(t, receive(t, user).Text(), "KNOWLEDGE CAPSULE LIBRARY")
}

func TestAgentRejectsEmptyQuery(t *testing.T) {
	b := &recordingBus{}
	agent := NewAgent(NewService(Deps{}), b, nil)

	agent.Handle(context.Background(), textEnvelope(RouterAddress, PipelineAddress, "s", "  "))
	require.Len(t, b.sent, 1)
	assert.Equal(t, "Error: No query text provided", b.sent[0].Text())
	assert.Equal(t, RouterAddress, b.sent[0].Recipient)
	assert.Equal(t, "s", b.sent[0].SessionID)
}

func TestAgentRepliesWithState(t *testing.T) {
	h := newHarness(t, types.StatusVerified)
	b := &recordingBus{}
	agent := NewAgent(NewService(h.deps), b, nil)

	agent.Handle(context.Background(), textEnvelope(RouterAddress, PipelineAddress, "", "Why?"))
	require.Len(t, b.sent, 1)
	meta := b.sent[0].Metadata()
	assert.Equal(t, string(StateStored), meta[MetaState])
	assert.Equal(t, "new-capsule", meta[types.MetaCapsuleID])
	assert.Contains(t, b.sent[0].Text(), "VERIFIED ANSWER")
}

type recordingBus struct {
	mu   sync.Mutex
	sent []types.Envelope
	err  error
}

func (r *recordingBus) Send(_ context.Context, env types.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, env)
	return nil
}
