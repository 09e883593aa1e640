package beacon

import "sync"

// Buffer accumulates packets between consumers. Append and Drain are
// mutually exclusive, so a packet lands in exactly one drained batch.
type Buffer struct {
	mu      sync.Mutex
	packets []Packet
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Append(p Packet) {
	b.mu.Lock()
	b.packets = append(b.packets, p)
	b.mu.Unlock()
}

// Snapshot returns a copy of the buffered packets and leaves them in place.
func (b *Buffer) Snapshot() []Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Packet, len(b.packets))
	copy(out, b.packets)
	return out
}

// Drain takes every buffered packet and empties the buffer in one step.
func (b *Buffer) Drain() []Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.packets
	b.packets = nil
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// Sink receives captured packets. *Buffer is the usual sink.
type Sink interface {
	Append(p Packet)
}
