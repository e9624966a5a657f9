package bus

import (
	"sync"

	"github.com/tommie/openepo/internal/codec"
	"github.com/tommie/openepo/internal/recovery"

	"log/slog"
)

// Memory is an in-process Bus implementation used by the demo CLI and by
// every FSM test in this repository: it needs no network and delivers
// synchronously, matching the single-threaded cooperative model the core
// assumes.
type Memory struct {
	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
	logger   *slog.Logger
}

// NewMemory returns an empty in-memory bus. A nil logger discards log
// output.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Memory{handlers: make(map[int]Handler), logger: logger}
}

// Send implements Bus. Handler panics are recovered and logged so one
// faulty subscriber cannot prevent others from observing the frame or
// crash the sender.
func (m *Memory) Send(frame codec.Frame) error {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		m.dispatch(h, frame)
	}
	return nil
}

func (m *Memory) dispatch(h Handler, frame codec.Frame) {
	defer recovery.RecoverWithLog(m.logger, "bus.Memory.dispatch")
	h(frame)
}

// Subscribe implements Bus.
func (m *Memory) Subscribe(handler Handler) Unsubscribe {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}
