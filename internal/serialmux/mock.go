package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// pipePort is the read end of an io.Pipe posing as a receiver. Writes are
// discarded.
type pipePort struct {
	*io.PipeReader
}

func (pipePort) Write(p []byte) (int, error) { return len(p), nil }

// NewMockSerialMux returns a mux whose receiver prints lines in a loop, one
// every interval. It runs the serial path of -dev mode.
func NewMockSerialMux(lines []string, interval time.Duration) *SerialMux[SerialPorter] {
	r, w := io.Pipe()
	go func() {
		if len(lines) == 0 {
			w.Close()
			return
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for i := 0; ; i = (i + 1) % len(lines) {
			<-t.C
			if _, err := io.WriteString(w, strings.TrimRight(lines[i], "\n")+"\n"); err != nil {
				// the mux closed the reader
				return
			}
		}
	}()
	return NewSerialMux[SerialPorter](pipePort{r})
}

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter. Reads drain data queued
// with AddReadData; writes are captured for GetWrittenData. The *Error
// fields fail the next matching call once.
type TestableSerialPort struct {
	ReadError  error
	WriteError error
	CloseError error

	// BlockReads makes Read wait for data instead of reporting EOF.
	BlockReads bool
	Closed     bool

	mu      sync.Mutex
	ready   *sync.Cond
	in, out bytes.Buffer
}

func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.ready = sync.NewCond(&p.mu)
	return p
}

func takeErr(e *error) error {
	err := *e
	*e = nil
	return err
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := takeErr(&p.ReadError); err != nil {
		return 0, err
	}
	for p.BlockReads && !p.Closed && p.in.Len() == 0 {
		p.ready.Wait()
	}
	if p.Closed {
		return 0, errPortClosed
	}
	return p.in.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errPortClosed
	}
	if err := takeErr(&p.WriteError); err != nil {
		return 0, err
	}
	return p.out.Write(b)
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.ready.Broadcast()
	return p.CloseError
}

func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
	p.ready.Broadcast()
}

func (p *TestableSerialPort) GetWrittenData() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}
