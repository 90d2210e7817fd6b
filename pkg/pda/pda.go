// Package pda derives the messenger's program-derived addresses for cross-chain identities.
//
// Every remote wallet is represented on Solana by the address derived from the seeds
// (identity bytes, decimal chain id). The messenger signs for that address when it executes a staged
// transaction, so the derivation doubles as the authorization check: a caller proves control of an identity
// by presenting the account derived from it.
//
// The seed order and encoding are shared with clients on other chains and must never change.
package pda

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

const DefaultCacheSize = 4096

// Derived is a program-derived address together with the bump that puts it off the curve.
type Derived struct {
	Address solana.PublicKey
	Bump    uint8
}

// ChainSeed returns the seed form of a chain id: its decimal representation as bytes.
func ChainSeed(chainID uint64) []byte {
	return []byte(strconv.FormatUint(chainID, 10))
}

// Derive computes the address for identity on chainID under programID.
func Derive(programID solana.PublicKey, identity vaa.Address, chainID uint64) (Derived, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{identity[:], ChainSeed(chainID)}, programID)
	if err != nil {
		return Derived{}, fmt.Errorf("failed to derive address for %s on chain %d: %w", identity, chainID, err)
	}
	return Derived{Address: addr, Bump: bump}, nil
}

// SignerSeeds returns the seeds, bump included, that sign for d.
func (d Derived) SignerSeeds(identity vaa.Address, chainID uint64) [][]byte {
	return [][]byte{identity[:], ChainSeed(chainID), {d.Bump}}
}

// Deriver memoizes Derive for a single program. FindProgramAddress may hash up to 255 times per call and the
// same identities are derived over and over by the engine.
type Deriver struct {
	programID solana.PublicKey
	cache     *lru.Cache
}

func NewDeriver(programID solana.PublicKey, cacheSize int) (*Deriver, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create derivation cache: %w", err)
	}
	return &Deriver{programID: programID, cache: cache}, nil
}

func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

type cacheKey struct {
	identity vaa.Address
	chainID  uint64
}

func (d *Deriver) Derive(identity vaa.Address, chainID uint64) (Derived, error) {
	key := cacheKey{identity: identity, chainID: chainID}
	if v, ok := d.cache.Get(key); ok {
		return v.(Derived), nil
	}

	derived, err := Derive(d.programID, identity, chainID)
	if err != nil {
		return Derived{}, err
	}
	d.cache.Add(key, derived)
	return derived, nil
}
