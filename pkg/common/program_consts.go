package common

import (
	"github.com/gagliardetto/solana-go"
)

// ProgramAddresses are the on-chain programs the messenger talks to on a given network.
type ProgramAddresses struct {
	// Messenger is the program that owns the staged state and derives the signer PDAs.
	Messenger solana.PublicKey
	// CoreBridge owns posted VAA accounts and the bridge config, sequence and fee collector.
	CoreBridge solana.PublicKey
	// TokenBridge is the portal that locks or burns tokens for outbound transfers.
	TokenBridge solana.PublicKey
}

var messengerProgram = solana.MustPublicKeyFromBase58("GtyAQgcYTGso352pgR7T8tfESe3TGE5eUkEj9dYyrypS")

var mainnetPrograms = ProgramAddresses{
	Messenger:   messengerProgram,
	CoreBridge:  solana.MustPublicKeyFromBase58("worm2ZoG2kUd4vFXhvjh93UUH596ayRfgQ2MgjNMTth"),
	TokenBridge: solana.MustPublicKeyFromBase58("wormDTUJ6AWPNvk59vGQbDvGJmqbDTdgWgAqcLBCgUb"),
}

var testnetPrograms = ProgramAddresses{
	Messenger:   messengerProgram,
	CoreBridge:  solana.MustPublicKeyFromBase58("3u8hJUVTA4jH1wYAyUur7FFZVQ8H635K3tSHHF4ssjQ5"),
	TokenBridge: solana.MustPublicKeyFromBase58("DZnkkTmCiFWfYTfT41X3Rd1kDgozqzxWaHqsw6W4x2oe"),
}

var devnetPrograms = ProgramAddresses{
	Messenger:   messengerProgram,
	CoreBridge:  solana.MustPublicKeyFromBase58("Bridge1p5gheXUvJ6jGWGeCsgPKgnE3YgdGKRVCMY9o"),
	TokenBridge: solana.MustPublicKeyFromBase58("B6RHG3mfcckmrYN1UhmJzyS1XX3fZKbkeUcpJe9Sy3FE"),
}

// GetProgramAddresses returns the well-known program addresses for env. Unit tests use the devnet set.
func GetProgramAddresses(env Environment) ProgramAddresses {
	switch env {
	case MainNet:
		return mainnetPrograms
	case TestNet:
		return testnetPrograms
	default:
		return devnetPrograms
	}
}
