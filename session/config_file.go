package session

import "github.com/NomadArchitect/fuchsia-sub001/config"

// DerivableConfigFromC reads the session.* keys, falling back to
// DefaultDerivableConfig for anything unset.
func DerivableConfigFromC(c *config.C) DerivableConfig {
	d := DefaultDerivableConfig
	return DerivableConfig{
		DefaultBufferLength: uint(c.GetUint32("session.buffer_length", uint32(d.DefaultBufferLength))),
		Primary:             c.GetBool("session.primary", d.Primary),
		WatchRxLeases:       c.GetBool("session.watch_rx_leases", d.WatchRxLeases),
	}
}
