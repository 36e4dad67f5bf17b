package channel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/avast/retry-go"
	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/internal/fifo"
	log "github.com/sirupsen/logrus"
)

// Delay between two attempts when the backend is busy
const busyRetryDelay = time.Millisecond

// Check that a frame can be sent on this channel
func (ch *Channel) checkTx(frame canwrap.Frame) (link, error) {
	ch.linkMu.RLock()
	l := ch.link
	ch.linkMu.RUnlock()
	if !l.open {
		return l, canwrap.ErrNotOpen
	}
	if l.mode == canwrap.ModeListenOnly {
		return l, canwrap.ErrListenOnly
	}
	if frame.Type == canwrap.ErrorFrame {
		return l, fmt.Errorf("%w: error frames can't be sent", canwrap.ErrInvalidFrame)
	}
	if err := frame.Validate(); err != nil {
		return l, err
	}
	if frame.Type.IsFD() && !l.openType.IsFD() {
		return l, fmt.Errorf("%w: %v frame on a channel opened as %v", canwrap.ErrInvalidFrame, frame.Type, l.openType)
	}
	return l, nil
}

// SetMessage sends a frame according to the transmit mode.
// In normal mode a busy backend is retried for at most timeout ms
// (0 : single attempt, negative : until it succeeds).
func (ch *Channel) SetMessage(frame canwrap.Frame, timeout int32) error {
	l, err := ch.checkTx(frame)
	if err != nil {
		return err
	}
	switch l.txMode {
	case canwrap.TxAutoSend:
		return ch.scheduler.autoSend(frame)
	case canwrap.TxQueue:
		return ch.scheduler.enqueue(frame)
	}
	ctx, cancel := timeoutContext(timeout)
	defer cancel()
	return ch.transmit(ctx, frame, timeout == 0)
}

// SetMessages sends frames in order and stops at the first error.
// Returns the number of frames accepted.
func (ch *Channel) SetMessages(frames []canwrap.Frame, timeout int32) (int, error) {
	for i, frame := range frames {
		if err := ch.SetMessage(frame, timeout); err != nil {
			return i, err
		}
	}
	return len(frames), nil
}

// Send a frame now, retrying while the backend is busy until ctx is done
func (ch *Channel) transmit(ctx context.Context, frame canwrap.Frame, once bool) error {
	l, err := ch.checkTx(frame)
	if err != nil {
		return err
	}
	if l.mode == canwrap.ModeLoopback {
		ch.stats.tx.Add(1)
		ch.echo(frame)
		return nil
	}
	attempts := uint(math.MaxInt32)
	if once {
		attempts = 1
	}
	err = retry.Do(
		func() error {
			return ch.bm.Send(frame)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(busyRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, canwrap.ErrTxBusy)
		}),
		retry.LastErrorOnly(true),
	)
	if errors.Is(err, context.DeadlineExceeded) {
		err = canwrap.ErrTxBusy
	}
	if err != nil {
		ch.stats.txErrors.Add(1)
		return canwrap.BackendError(err)
	}
	ch.stats.tx.Add(1)
	if l.softwareEcho {
		ch.echo(frame)
	}
	return nil
}

// Scheduler for the auto send & queue transmit modes
type scheduler struct {
	ch       *Channel
	mu       sync.Mutex
	mode     canwrap.TxMode
	timings  map[uint32]int32
	queue    *fifo.Fifo[canwrap.Frame]
	wakeup   chan struct{}
	periodic map[uint32]*periodicTask
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type periodicTask struct {
	mu    sync.Mutex
	frame canwrap.Frame
}

func (task *periodicTask) get() canwrap.Frame {
	task.mu.Lock()
	defer task.mu.Unlock()
	return task.frame
}

func (task *periodicTask) set(frame canwrap.Frame) {
	task.mu.Lock()
	defer task.mu.Unlock()
	task.frame = frame
}

func newScheduler(ch *Channel, queueSize int) *scheduler {
	return &scheduler{
		ch:       ch,
		queue:    fifo.NewFifo[canwrap.Frame](queueSize),
		wakeup:   make(chan struct{}, 1),
		periodic: make(map[uint32]*periodicTask),
	}
}

func frameKey(frame canwrap.Frame) uint32 {
	if frame.Extended {
		return frame.ID | 0x80000000
	}
	return frame.ID
}

func (s *scheduler) start(mode canwrap.TxMode, timings map[uint32]int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.timings = make(map[uint32]int32, len(timings))
	for id, ms := range timings {
		s.timings[id] = ms
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.queue.Reset()
	s.periodic = make(map[uint32]*periodicTask)
	if mode == canwrap.TxQueue {
		s.wg.Add(1)
		go s.processQueue(s.ctx)
	}
}

// Stop all periodic tasks & the queue worker
func (s *scheduler) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.queue.GetOccupied(); n > 0 {
		log.Warnf("[CHANNEL][%v] discarding %d queued frames", s.ch.info.Name, n)
	}
	s.queue.Reset()
}

func (s *scheduler) timing(frame canwrap.Frame) time.Duration {
	return time.Duration(s.timings[frame.ID]) * time.Millisecond
}

// Store the frame for its id and send it periodically.
// A frame without timing is sent once.
func (s *scheduler) autoSend(frame canwrap.Frame) error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return canwrap.ErrNotOpen
	}
	period := s.timing(frame)
	if period <= 0 {
		ctx := s.ctx
		s.mu.Unlock()
		return s.ch.transmit(ctx, frame, true)
	}
	key := frameKey(frame)
	task, ok := s.periodic[key]
	if ok {
		task.set(frame)
		s.mu.Unlock()
		return nil
	}
	task = &periodicTask{frame: frame}
	s.periodic[key] = task
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	go s.runPeriodic(ctx, task, period)
	return nil
}

func (s *scheduler) runPeriodic(ctx context.Context, task *periodicTask, period time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		frame := task.get()
		if err := s.ch.transmit(ctx, frame, true); err != nil && ctx.Err() == nil {
			log.Warnf("[CHANNEL][%v] auto send of x%x failed : %v", s.ch.info.Name, frame.ID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Append the frame to the transmit queue
func (s *scheduler) enqueue(frame canwrap.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return canwrap.ErrNotOpen
	}
	if !s.queue.Write(frame) {
		return fmt.Errorf("%w: transmit queue full", canwrap.ErrTxBusy)
	}
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
	return nil
}

func (s *scheduler) next() (canwrap.Frame, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame, ok := s.queue.Read()
	if !ok {
		return frame, 0, false
	}
	return frame, s.timing(frame), true
}

// Send queued frames, waiting the timing of each frame id after sending it
func (s *scheduler) processQueue(ctx context.Context) {
	defer s.wg.Done()
	for {
		frame, delay, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wakeup:
				continue
			}
		}
		if err := s.ch.transmit(ctx, frame, false); err != nil && ctx.Err() == nil {
			log.Warnf("[CHANNEL][%v] queued send of x%x failed : %v", s.ch.info.Name, frame.ID, err)
		}
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Number of frames waiting in the transmit queue
func (ch *Channel) TxQueueCount() int {
	ch.scheduler.mu.Lock()
	defer ch.scheduler.mu.Unlock()
	return ch.scheduler.queue.GetOccupied()
}
