package serialmux

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate suits the USB beacon receivers we ship firmware for.
const DefaultBaudRate = 115200

var baudRates = []int{
	1200, 2400, 4800, 9600, 19200, 38400, 57600,
	115200, 230400, 460800, 921600,
}

// parities maps every accepted spelling to its one-letter form.
var parities = map[string]string{
	"": "N", "N": "N", "NONE": "N",
	"E": "E", "EVEN": "E",
	"O": "O", "ODD": "O",
}

var serialParity = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

// PortOptions is the "serial" block of the config file. Zero fields mean
// 8N1 at DefaultBaudRate.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

// Normalise fills in defaults and checks each field against what
// go.bug.st/serial can open.
func (o PortOptions) Normalise() (PortOptions, error) {
	n := PortOptions{
		BaudRate: positiveOr(o.BaudRate, DefaultBaudRate),
		DataBits: positiveOr(o.DataBits, 8),
		StopBits: positiveOr(o.StopBits, 1),
	}
	if !slices.Contains(baudRates, n.BaudRate) {
		return n, fmt.Errorf("invalid baud rate %d", n.BaudRate)
	}
	if n.DataBits < 5 || n.DataBits > 8 {
		return n, fmt.Errorf("invalid data bits %d: must be between 5 and 8", n.DataBits)
	}
	if n.StopBits != 1 && n.StopBits != 2 {
		return n, fmt.Errorf("invalid stop bits %d: must be 1 or 2", n.StopBits)
	}
	p, ok := parities[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return n, fmt.Errorf("unsupported parity %q: expected N, E or O", o.Parity)
	}
	n.Parity = p
	return n, nil
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SerialMode is the normalised options in go.bug.st/serial form.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalise()
	if err != nil {
		return nil, err
	}
	stop := serial.OneStopBit
	if n.StopBits == 2 {
		stop = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stop,
		Parity:   serialParity[n.Parity],
	}, nil
}
