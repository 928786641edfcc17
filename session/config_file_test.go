package session_test

import (
	"testing"

	"github.com/NomadArchitect/fuchsia-sub001/config"
	"github.com/NomadArchitect/fuchsia-sub001/session"
	"github.com/NomadArchitect/fuchsia-sub001/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivableConfigFromC(t *testing.T) {
	c := config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString("logging: {}"))
	assert.Equal(t, session.DefaultDerivableConfig, session.DerivableConfigFromC(c))

	require.NoError(t, c.LoadString("session:\n  buffer_length: 1500\n  primary: no\n  watch_rx_leases: yes\n"))
	assert.Equal(t, session.DerivableConfig{
		DefaultBufferLength: 1500,
		Primary:             false,
		WatchRxLeases:       true,
	}, session.DerivableConfigFromC(c))
}
