package serialmux

import (
	"fmt"
	"io"
	"sort"

	"go.bug.st/serial"
)

// SerialPorter is what SerialMux needs from a port. serial.Port satisfies
// it, as does TestableSerialPort.
type SerialPorter interface {
	io.ReadWriteCloser
}

var listPorts = serial.GetPortsList

// NewRealSerialMux opens the scanner dongle at path. Options are checked
// before the device is touched.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewSerialMux[serial.Port](port), nil
}

// ListPorts returns the serial devices present, sorted.
func ListPorts() ([]string, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
