package mailbox

import (
	"context"
	"sort"
	"sync"
)

// Memory is the in-process store used by the embedded simulation and by
// tests.
type Memory struct {
	mu    sync.Mutex
	boxes map[string][]Message
	names map[string]struct{}
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		boxes: make(map[string][]Message),
		names: make(map[string]struct{}),
	}
}

func (m *Memory) Register(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[name] = struct{}{}
	return nil
}

func (m *Memory) Recipients(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.names))
	for name := range m.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Send(ctx context.Context, msg Message) error {
	msg = prepare(msg)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes[msg.Recipient] = append(m.boxes[msg.Recipient], msg)
	return nil
}

func (m *Memory) Broadcast(ctx context.Context, msg Message) (int, error) {
	msg = prepare(msg)
	msg.Broadcast = true

	m.mu.Lock()
	defer m.mu.Unlock()
	recipients := make([]string, 0, len(m.names))
	for name := range m.names {
		recipients = append(recipients, name)
	}
	sort.Strings(recipients)

	delivered := 0
	for _, name := range recipients {
		if name == msg.Sender {
			continue
		}
		dup := msg
		dup.Recipient = name
		m.boxes[name] = append(m.boxes[name], dup)
		delivered++
	}
	return delivered, nil
}

func (m *Memory) Drain(ctx context.Context, recipient string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.boxes[recipient]
	delete(m.boxes, recipient)
	return out, nil
}

func (m *Memory) Peek(ctx context.Context, recipient string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	box := m.boxes[recipient]
	out := make([]Message, len(box))
	copy(out, box)
	return out, nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boxes = make(map[string][]Message)
	m.names = make(map[string]struct{})
	return nil
}
