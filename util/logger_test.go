package util

import (
	"testing"
	"time"

	"github.com/NomadArchitect/fuchsia-sub001/config"
	"github.com/NomadArchitect/fuchsia-sub001/test"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLogger(t *testing.T) {
	l := test.NewLogger()
	c := config.NewC(l)

	require.NoError(t, c.LoadString("logging:\n  level: debug\n"))
	require.NoError(t, ConfigLogger(l, c))
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.Equal(t, &logrus.TextFormatter{TimestampFormat: time.RFC3339}, l.Formatter)

	require.NoError(t, c.LoadString("logging:\n  format: JSON\n  timestamp_format: 2006\n  disable_timestamp: yes\n"))
	require.NoError(t, ConfigLogger(l, c))
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.Equal(t, &logrus.JSONFormatter{TimestampFormat: "2006", DisableTimestamp: true}, l.Formatter)

	require.NoError(t, c.LoadString("logging:\n  level: loud\n"))
	assert.ErrorContains(t, ConfigLogger(l, c), "possible levels")

	require.NoError(t, c.LoadString("logging:\n  format: xml\n"))
	assert.EqualError(t, ConfigLogger(l, c), "unknown log format `xml`. possible formats: [text json]")
}
