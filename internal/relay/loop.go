package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/standardbeagle/perfdash/internal/debug"
	"github.com/standardbeagle/perfdash/internal/protocol"
)

const defaultLoopBuffer = 256

// Loop owns a Broker on a single goroutine. Transports post closures to it
// instead of touching the broker directly.
type Loop struct {
	broker *Broker
	tasks  chan func(*Broker)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop starts the loop goroutine. It runs until Stop or until parent is
// cancelled.
func NewLoop(parent context.Context, b *Broker) *Loop {
	ctx, cancel := context.WithCancel(parent)
	l := &Loop{
		broker: b,
		tasks:  make(chan func(*Broker), defaultLoopBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func(*Broker)) {
	defer func() {
		if r := recover(); r != nil {
			debug.Error("relay", "panic in broker task: %v", r)
		}
	}()
	fn(l.broker)
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(fn func(*Broker)) error {
	select {
	case <-l.ctx.Done():
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.ctx.Done():
		return ErrLoopStopped
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func(*Broker)) error {
	done := make(chan struct{})
	err := l.Post(func(b *Broker) {
		defer close(done)
		fn(b)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay loop: %w", ctx.Err())
	case <-l.ctx.Done():
		return ErrLoopStopped
	}
}

// ContentMessage forwards a content message through the broker and returns
// its ack.
func (l *Loop) ContentMessage(ctx context.Context, raw []byte, tabID int) (ack protocol.Ack, err error) {
	err = l.Do(ctx, func(b *Broker) {
		ack = b.OnContentMessage(raw, tabID)
	})
	return ack, err
}

// Stop stops the loop and waits for the goroutine to exit. Queued tasks
// that have not started are dropped.
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
}
