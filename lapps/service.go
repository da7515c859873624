package lapps

import (
	"context"

	"log/slog"
)

const serviceMessageExport = "handle_message"

// deliverMsg carries one message into the actor together with the
// reply channel the caller blocks on.
type deliverMsg struct {
	ctx     context.Context
	payload []byte
	reply   chan deliverResult
}

type deliverResult struct {
	data []byte
	err  error
}

type stopMsg struct {
	ack chan bool
}

// ServiceSender is the caller-side endpoint of a lapp's background
// service. It is safe for concurrent use; every delivery is serialized
// by the actor goroutine behind it.
type ServiceSender struct {
	ch chan any
}

// LappService is the background actor: a single goroutine draining a
// mailbox and forwarding each message to the guest's message handler.
// It captures the module instance at spawn time and never touches the
// lapp's lock, so it cannot deadlock against lifecycle operations.
type LappService struct {
	name     string
	instance ModuleInstance
	ch       chan any
	logger   *slog.Logger
}

// NewLappService builds the actor and its sender endpoint. The caller
// starts the actor with go Run().
func NewLappService(name string, instance ModuleInstance, logger *slog.Logger) (*LappService, *ServiceSender) {
	if logger == nil {
		logger = slog.Default()
	}
	ch := make(chan any, 16)
	service := &LappService{
		name:     name,
		instance: instance,
		ch:       ch,
		logger:   logger.With(slog.String("lapp", name)),
	}
	return service, &ServiceSender{ch: ch}
}

// Run drains the mailbox until a stop message arrives.
func (s *LappService) Run() {
	s.logger.Debug("service started")
	for msg := range s.ch {
		switch m := msg.(type) {
		case deliverMsg:
			data, err := s.instance.Call(m.ctx, serviceMessageExport, m.payload)
			if err != nil {
				s.logger.Error("service message failed", slog.Any("error", err))
			}
			m.reply <- deliverResult{data: data, err: err}
		case stopMsg:
			s.logger.Debug("service stopped")
			m.ack <- true
			return
		}
	}
}

// Deliver enqueues one message and waits for the guest's response. The
// context bounds both the enqueue and the wait.
func (s *ServiceSender) Deliver(ctx context.Context, payload []byte) ([]byte, error) {
	reply := make(chan deliverResult, 1)
	select {
	case s.ch <- deliverMsg{ctx: ctx, payload: payload, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop asks the actor to exit and reports whether it acknowledged
// before the context expired.
func (s *ServiceSender) stop(ctx context.Context) bool {
	ack := make(chan bool, 1)
	select {
	case s.ch <- stopMsg{ack: ack}:
	case <-ctx.Done():
		return false
	}
	select {
	case <-ack:
		return true
	case <-ctx.Done():
		return false
	}
}
