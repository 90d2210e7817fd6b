package portal

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Accounts are the program-derived accounts a transfer of one mint touches.
type Accounts struct {
	Config          solana.PublicKey
	Custody         solana.PublicKey
	AuthoritySigner solana.PublicKey
	CustodySigner   solana.PublicKey
	Emitter         solana.PublicKey
	BridgeConfig    solana.PublicKey
	Sequence        solana.PublicKey
	FeeCollector    solana.PublicKey
}

func findAddress(programID solana.PublicKey, seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive %q under %s: %w", seeds[0], programID, err)
	}
	return addr, nil
}

// DeriveAccounts derives the portal and core bridge accounts for a transfer of mint. Custody is only used by
// native transfers.
func (p *Portal) DeriveAccounts(mint solana.PublicKey) (*Accounts, error) {
	var (
		a   Accounts
		err error
	)

	if a.Config, err = findAddress(p.TokenBridge, []byte("config")); err != nil {
		return nil, err
	}
	if a.Custody, err = findAddress(p.TokenBridge, mint[:]); err != nil {
		return nil, err
	}
	if a.AuthoritySigner, err = findAddress(p.TokenBridge, []byte("authority_signer")); err != nil {
		return nil, err
	}
	if a.CustodySigner, err = findAddress(p.TokenBridge, []byte("custody_signer")); err != nil {
		return nil, err
	}
	if a.Emitter, err = findAddress(p.TokenBridge, []byte("emitter")); err != nil {
		return nil, err
	}
	if a.BridgeConfig, err = findAddress(p.CoreBridge, []byte("Bridge")); err != nil {
		return nil, err
	}
	if a.Sequence, err = findAddress(p.CoreBridge, []byte("Sequence"), a.Emitter[:]); err != nil {
		return nil, err
	}
	if a.FeeCollector, err = findAddress(p.CoreBridge, []byte("fee_collector")); err != nil {
		return nil, err
	}

	return &a, nil
}

// DeriveWrappedMeta derives the metadata account the portal keeps for a wrapped mint.
func (p *Portal) DeriveWrappedMeta(wrappedMint solana.PublicKey) (solana.PublicKey, error) {
	return findAddress(p.TokenBridge, []byte("meta"), wrappedMint[:])
}

// Native fills in a NativeTransfer from the derived accounts.
func (a *Accounts) Native(payer, from, mint, message solana.PublicKey) NativeTransfer {
	return NativeTransfer{
		Payer:           payer,
		Config:          a.Config,
		From:            from,
		Mint:            mint,
		Custody:         a.Custody,
		AuthoritySigner: a.AuthoritySigner,
		CustodySigner:   a.CustodySigner,
		BridgeConfig:    a.BridgeConfig,
		Message:         message,
		Emitter:         a.Emitter,
		Sequence:        a.Sequence,
		FeeCollector:    a.FeeCollector,
	}
}

// Wrapped fills in a WrappedTransfer from the derived accounts.
func (a *Accounts) Wrapped(payer, from, fromOwner, wrappedMint, wrappedMeta, message solana.PublicKey) WrappedTransfer {
	return WrappedTransfer{
		Payer:           payer,
		Config:          a.Config,
		From:            from,
		FromOwner:       fromOwner,
		WrappedMint:     wrappedMint,
		WrappedMeta:     wrappedMeta,
		AuthoritySigner: a.AuthoritySigner,
		BridgeConfig:    a.BridgeConfig,
		Message:         message,
		Emitter:         a.Emitter,
		Sequence:        a.Sequence,
		FeeCollector:    a.FeeCollector,
	}
}
