package serialmux

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRealSerialMux_MissingPort(t *testing.T) {
	mux, err := NewRealSerialMux("/dev/nonexistent-serial-port-12345", PortOptions{})
	if err == nil {
		mux.Close()
		t.Fatal("expected error when opening a missing port")
	}
	assert.Nil(t, mux)
	assert.True(t, strings.Contains(err.Error(), "/dev/nonexistent-serial-port-12345"), err.Error())
}

func TestNewRealSerialMux_InvalidOptions(t *testing.T) {
	_, err := NewRealSerialMux("/dev/ttyUSB0", PortOptions{Parity: "Q"})
	assert.Error(t, err)
}

func TestListPorts(t *testing.T) {
	orig := listPorts
	t.Cleanup(func() { listPorts = orig })

	listPorts = func() ([]string, error) { return []string{"/dev/ttyUSB1", "/dev/ttyACM0"}, nil }
	ports, err := ListPorts()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyUSB1"}, ports)

	listPorts = func() ([]string, error) { return nil, errors.New("no sysfs") }
	_, err = ListPorts()
	assert.ErrorContains(t, err, "no sysfs")
}
