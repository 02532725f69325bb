// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/capsule-engine/internal/logging"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// Bus errors.
var (
	ErrUnknownAddress = errors.New("unknown address")
	ErrBusClosed      = errors.New("bus closed")
)

const mailboxSize = 64

// HandlerFunc serves envelopes delivered to one address.
type HandlerFunc func(ctx context.Context, env types.Envelope)

// Bus delivers envelopes to addresses.
type Bus interface {
	Send(ctx context.Context, env types.Envelope) error
}

type mailbox struct {
	ch   chan types.Envelope
	done chan struct{}
}

// LocalBus is an in-process Bus. Every registered address owns a mailbox
// drained by a single goroutine, so at most one handler call runs at a
// time per address while different addresses run concurrently.
type LocalBus struct {
	mu     sync.RWMutex
	boxes  map[string]*mailbox
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	logger *log.Logger
}

// NewLocalBus returns an empty bus.
func NewLocalBus(logger *log.Logger) *LocalBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalBus{
		boxes:  make(map[string]*mailbox),
		ctx:    ctx,
		cancel: cancel,
		logger: logging.OrDiscard(logger).WithPrefix("bus"),
	}
}

// Register starts serving addr with h.
func (b *LocalBus) Register(addr string, h HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.boxes[addr]; ok {
		return fmt.Errorf("address %q already registered", addr)
	}
	box := &mailbox{ch: make(chan types.Envelope, mailboxSize), done: make(chan struct{})}
	b.boxes[addr] = box

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-box.done:
				return
			case env := <-box.ch:
				b.logger.Debug("deliver", "to", addr, "from", env.Sender, "id", env.ID)
				h(b.ctx, env)
			}
		}
	}()
	return nil
}

// Send queues env for its recipient. It blocks while the mailbox is full.
func (b *LocalBus) Send(ctx context.Context, env types.Envelope) error {
	b.mu.RLock()
	box, ok := b.boxes[env.Recipient]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	if !ok {
		return fmt.Errorf("sending to %q: %w", env.Recipient, ErrUnknownAddress)
	}

	select {
	case box.ch <- env:
		return nil
	case <-box.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every mailbox and waits for running handlers to return.
// Undelivered envelopes are discarded.
func (b *LocalBus) Close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		for _, box := range b.boxes {
			close(box.done)
		}
		b.mu.Unlock()
		b.cancel()
		b.wg.Wait()
	})
}
