package main

import (
	"context"
	"testing"
	"time"

	"github.com/NomadArchitect/fuchsia-sub001/config"
	"github.com/NomadArchitect/fuchsia-sub001/session"
	"github.com/NomadArchitect/fuchsia-sub001/test"
	"github.com/NomadArchitect/fuchsia-sub001/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, raw string) *config.C {
	c := config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString(raw))
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestMain_Echo(t *testing.T) {
	c := loadConfig(t, `
session:
  name: echo-test
  buffer_length: 256
device:
  rx_depth: 8
  tx_depth: 4
  min_tx_buffer_length: 80
echo:
  frames: 200
  payload_size: 16
logging:
  level: info
`)

	sum, err := Main(testContext(t), test.NewLogger(), c, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), sum.sent)
	assert.Equal(t, uint64(200), sum.received)
	// Ethernet frames are built at the 60 byte minimum and the session pads
	// them to the device minimum of 80 on the way out.
	assert.Equal(t, uint64(200*60), sum.sentBytes)
	assert.Equal(t, uint64(200*80), sum.receivedBytes)
	assert.Contains(t, sum.String(), "sent=200 (12 kB)")
}

func TestMain_WithoutEcho(t *testing.T) {
	c := loadConfig(t, `
session:
  name: echo-silent
  watch_rx_leases: yes
device:
  rx_depth: 2
  tx_depth: 2
  echo: false
echo:
  frames: 10
`)

	sum, err := Main(testContext(t), test.NewLogger(), c, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), sum.sent)
	assert.Zero(t, sum.received)
	assert.Zero(t, sum.leases)
}

func TestMain_ConfigTest(t *testing.T) {
	c := loadConfig(t, "echo:\n  frames: 5\n")
	sum, err := Main(testContext(t), test.NewLogger(), c, true)
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestMain_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  string
	}{
		{"logging", "logging:\n  format: xml", "Failed to configure the logger: unknown log format `xml`. possible formats: [text json]"},
		{"stats", "stats:\n  type: statsd\n  interval: 1s", "Failed to start stats emitter: stats.type was not understood: statsd"},
		{"frames", "echo:\n  frames: 0", "Failed to set up the echo session: echo.frames must be positive"},
		{"payload", "echo:\n  payload_size: 4", "Failed to set up the echo session: echo.payload_size must be at least 8, got 4"},
		{"port", "device:\n  port:\n    base: 40", "Invalid device config: device.port.base 40 is out of range [0, 32]"},
		{"session", "session:\n  buffer_length: 1\ndevice:\n  min_tx_buffer_length: 80", "Invalid session config (map[session:netdev-echo]): invalid config: buffer_length smaller than minimum TX requirement: 1 < 60"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Main(testContext(t), test.NewLogger(), loadConfig(t, tt.raw), true)
			require.Error(t, err)
			var ce *util.ContextualError
			assert.ErrorAs(t, err, &ce)
			assert.EqualError(t, err, tt.err)
		})
	}
}

func TestEchoConfigFromC(t *testing.T) {
	cfg := echoConfigFromC(loadConfig(t, "logging: {}"))
	assert.Equal(t, echoConfig{
		name:        "netdev-echo",
		frames:      1000,
		payloadSize: 64,
		timeout:     30 * time.Second,
		echo:        true,
	}, cfg)
}

func TestEchoer_SessionFailure(t *testing.T) {
	ctx := testContext(t)
	c := loadConfig(t, "session:\n  name: echo-fail\necho:\n  frames: 3\n")
	e, err := newEchoer(ctx, test.NewLogger(), c, false)
	require.NoError(t, err)

	// Closing the session before running makes every operation fail.
	require.NoError(t, e.s.Close())
	_, err = e.run(ctx)
	assert.ErrorIs(t, err, session.ErrClosed)
}
