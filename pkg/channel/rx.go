package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
)

// Handle implements [canwrap.FrameListener], it queues frames received
// from the backend. It never blocks : when the queue is full the frame
// is dropped and the next receive reports an overflow.
func (ch *Channel) Handle(frame canwrap.Frame) {
	ch.linkMu.RLock()
	l := ch.link
	ch.linkMu.RUnlock()
	if !l.open {
		return
	}
	if frame.Type == canwrap.ErrorFrame {
		ch.stats.busErrors.Add(1)
		if !l.busErrReport {
			ch.stats.dropped.Add(1)
			return
		}
	}
	frame.Timestamp = uint64(time.Since(l.openedAt).Microseconds())
	ch.enqueue(frame)
}

func (ch *Channel) enqueue(frame canwrap.Frame) {
	ch.rxMu.Lock()
	defer ch.rxMu.Unlock()
	if !ch.rx.Write(frame) {
		ch.overflow = true
		ch.stats.overflow.Add(1)
		return
	}
	ch.stats.rx.Add(1)
	// Wake up all waiting readers
	close(ch.notify)
	ch.notify = make(chan struct{})
}

// Queue an own frame as if it was received
func (ch *Channel) echo(frame canwrap.Frame) {
	ch.linkMu.RLock()
	openedAt := ch.link.openedAt
	ch.linkMu.RUnlock()
	frame.Transmitted = true
	frame.Timestamp = uint64(time.Since(openedAt).Microseconds())
	ch.enqueue(frame)
}

// Number of frames waiting in the receive queue
func (ch *Channel) MessageCount() (int, error) {
	if !ch.IsOpen() {
		return 0, canwrap.ErrNotOpen
	}
	ch.rxMu.Lock()
	defer ch.rxMu.Unlock()
	return ch.rx.GetOccupied(), nil
}

// Read up to max frames (all if max < 0), returns whether an overflow happened
func (ch *Channel) drain(max int) ([]canwrap.Frame, bool, chan struct{}, chan struct{}) {
	ch.rxMu.Lock()
	defer ch.rxMu.Unlock()
	count := ch.rx.GetOccupied()
	if max >= 0 && max < count {
		count = max
	}
	frames := make([]canwrap.Frame, count)
	n := ch.rx.ReadInto(frames)
	overflow := false
	if n > 0 && ch.overflow {
		overflow = true
		ch.overflow = false
	}
	return frames[:n], overflow, ch.notify, ch.done
}

// Receive blocks until a frame is available or ctx is done.
// A frame is returned together with [canwrap.ErrRxOverflow] if frames
// were lost since the last receive.
func (ch *Channel) Receive(ctx context.Context) (canwrap.Frame, error) {
	if !ch.IsOpen() {
		return canwrap.Frame{}, canwrap.ErrNotOpen
	}
	for {
		frames, overflow, notify, done := ch.drain(1)
		if len(frames) == 1 {
			if overflow {
				return frames[0], canwrap.ErrRxOverflow
			}
			return frames[0], nil
		}
		select {
		case <-notify:
		case <-done:
			return canwrap.Frame{}, canwrap.ErrClosed
		case <-ctx.Done():
			return canwrap.Frame{}, ctxError(ctx)
		}
	}
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return canwrap.ErrTimeout
	}
	return ctx.Err()
}

// Context for a timeout in ms, without deadline if timeout <= 0
func timeoutContext(timeout int32) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(timeout)*time.Millisecond)
}

// GetMessage receives one frame. A timeout of 0 polls ([canwrap.ErrNoMessage]
// when empty), a negative timeout waits indefinitely, a positive timeout
// waits at most that many ms ([canwrap.ErrTimeout]).
func (ch *Channel) GetMessage(timeout int32) (canwrap.Frame, error) {
	if !ch.IsOpen() {
		return canwrap.Frame{}, canwrap.ErrNotOpen
	}
	if timeout == 0 {
		frames, overflow, _, _ := ch.drain(1)
		if len(frames) == 0 {
			return canwrap.Frame{}, canwrap.ErrNoMessage
		}
		if overflow {
			return frames[0], canwrap.ErrRxOverflow
		}
		return frames[0], nil
	}
	ctx, cancel := timeoutContext(timeout)
	defer cancel()
	return ch.Receive(ctx)
}

// GetMessages receives up to items frames (everything available if items < 0).
// A timeout of 0 returns what is available. Otherwise it waits until items
// frames arrived (at least one if items < 0), indefinitely for a negative
// timeout, or returns what arrived with [canwrap.ErrTimeout].
func (ch *Channel) GetMessages(items int, timeout int32) ([]canwrap.Frame, error) {
	if items < 0 {
		return ch.receive(-1, 1, timeout)
	}
	return ch.receive(items, items, timeout)
}

// GetAvailable is GetMessages with items < 0, bounded to limit frames
func (ch *Channel) GetAvailable(limit int, timeout int32) ([]canwrap.Frame, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", canwrap.ErrIllegalArgument, limit)
	}
	return ch.receive(limit, 1, timeout)
}

// Receive at most limit frames (no bound if limit < 0), waiting for target frames
func (ch *Channel) receive(limit int, target int, timeout int32) ([]canwrap.Frame, error) {
	if !ch.IsOpen() {
		return nil, canwrap.ErrNotOpen
	}
	frames := make([]canwrap.Frame, 0)
	if limit == 0 {
		return frames, nil
	}
	ctx, cancel := timeoutContext(timeout)
	defer cancel()

	overflowed := false
	for {
		remaining := -1
		if limit > 0 {
			remaining = limit - len(frames)
		}
		received, overflow, notify, done := ch.drain(remaining)
		frames = append(frames, received...)
		overflowed = overflowed || overflow
		if len(frames) >= target || timeout == 0 {
			break
		}
		select {
		case <-notify:
			continue
		case <-done:
			return frames, canwrap.ErrClosed
		case <-ctx.Done():
			return frames, ctxError(ctx)
		}
	}
	if overflowed {
		return frames, canwrap.ErrRxOverflow
	}
	return frames, nil
}
