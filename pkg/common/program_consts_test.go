package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetProgramAddresses(t *testing.T) {
	main := GetProgramAddresses(MainNet)
	assert.Equal(t, "worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth", main.CoreBridge.String())
	assert.Equal(t, "wormDTUJ6AWPNvk59vGQbDvGJmqbDTdgWgAqcLBCgUb", main.TokenBridge.String())

	// Everything that is not mainnet or testnet falls back to the local devnet programs.
	assert.Equal(t, GetProgramAddresses(UnsafeDevNet), GetProgramAddresses(GoTest))
	assert.NotEqual(t, main.CoreBridge, GetProgramAddresses(TestNet).CoreBridge)

	// The messenger program id is the same deployment on every network.
	assert.Equal(t, main.Messenger, GetProgramAddresses(TestNet).Messenger)
}
