package serialmux

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uva-nepa/nepa/internal/testutil"
)

func waitClosed(t *testing.T, ch chan string) {
	t.Helper()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestDisabledSerialMux_Subscribers(t *testing.T) {
	d := NewDisabledSerialMux("scanner is ble")
	id1, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	d.Unsubscribe(id1)
	waitClosed(t, ch1)
	d.Unsubscribe(id1)

	require.NoError(t, d.Close())
	waitClosed(t, ch2)
	require.NoError(t, d.Close())

	_, late := d.Subscribe()
	waitClosed(t, late)
}

func TestDisabledSerialMux_SendCommand(t *testing.T) {
	assert.ErrorIs(t, NewDisabledSerialMux("").SendCommand("scan on"), ErrDisabled)
}

func TestDisabledSerialMux_AdminRoutes(t *testing.T) {
	mux := http.NewServeMux()
	NewDisabledSerialMux("scanner is replay").AttachAdminRoutes(mux)

	for _, path := range []string{"/debug/serial-tail", "/debug/serial-command", "/debug/serial-stats"} {
		rec := testutil.Serve(mux, http.MethodGet, path, nil)
		testutil.AssertStatusCode(t, rec, http.StatusNotFound)
		assert.True(t, strings.Contains(rec.Body.String(), "scanner is replay"), rec.Body.String())
	}
}

func TestDisabledSerialMux_Stats(t *testing.T) {
	assert.Equal(t, Stats{}, NewDisabledSerialMux("").Stats())
}
