package serialmux

import (
	"fmt"
	"sync"

	"github.com/uva-nepa/nepa/internal/beacon"
	"github.com/uva-nepa/nepa/internal/monitoring"
)

// Source turns receiver lines into beacon packets. Monitor must be running
// on the mux for lines to arrive.
type Source struct {
	Mux SerialMuxInterface
	// StartCommand and StopCommand, when set, are written to the receiver
	// when a scan begins and ends.
	StartCommand string
	StopCommand  string
}

func (s *Source) Start(onPacket func(beacon.Packet), onError func(error)) (beacon.Handle, error) {
	if s.StartCommand != "" {
		if err := s.Mux.SendCommand(s.StartCommand); err != nil {
			return nil, fmt.Errorf("failed to start receiver: %w", err)
		}
	}

	id, lines := s.Mux.Subscribe()
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				if ClassifyLine(line) != LinePacket {
					continue
				}
				p, err := beacon.ParseLine(line)
				if err != nil {
					if onError != nil {
						onError(fmt.Errorf("serial line %q: %w", line, err))
					}
					continue
				}
				onPacket(p)
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	return beacon.HandleFunc(func() {
		once.Do(func() {
			close(stop)
			<-done
			s.Mux.Unsubscribe(id)
			if s.StopCommand != "" {
				if err := s.Mux.SendCommand(s.StopCommand); err != nil {
					monitoring.Logf("[serialmux] failed to stop receiver: %v", err)
				}
			}
		})
	}), nil
}
