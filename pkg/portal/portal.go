// Package portal builds the instructions the messenger sends to the Wormhole token bridge ("portal") and the
// SPL token program when it relays a direct transfer back out to another chain.
//
// The portal's account lists are positional. Reordering any account, or changing its writable/signer flags,
// makes the portal reject the call.
package portal

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/near/borsh-go"
)

// Instruction is the portal's instruction discriminator.
type Instruction uint8

const (
	InstructionTransferWrapped Instruction = 4
	InstructionTransferNative  Instruction = 5
)

func (i Instruction) String() string {
	switch i {
	case InstructionTransferWrapped:
		return "transfer_wrapped"
	case InstructionTransferNative:
		return "transfer_native"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(i))
	}
}

// TransferData is the argument record of both transfer instructions.
type TransferData struct {
	Nonce         uint32
	Amount        uint64
	Fee           uint64
	TargetAddress [32]byte
	TargetChain   uint16
}

func (d TransferData) encode(ix Instruction) ([]byte, error) {
	b, err := borsh.Serialize(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s data: %w", ix, err)
	}
	return append([]byte{byte(ix)}, b...), nil
}

// DecodeTransferData splits instruction data built by this package back into discriminator and arguments.
func DecodeTransferData(data []byte) (Instruction, *TransferData, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("empty instruction data")
	}
	d := &TransferData{}
	if err := borsh.Deserialize(d, data[1:]); err != nil {
		return 0, nil, fmt.Errorf("failed to decode transfer data: %w", err)
	}
	return Instruction(data[0]), d, nil
}

// Portal knows the program ids of a token bridge deployment and the core bridge it posts messages to.
type Portal struct {
	TokenBridge solana.PublicKey
	CoreBridge  solana.PublicKey
}

func New(tokenBridge, coreBridge solana.PublicKey) *Portal {
	return &Portal{TokenBridge: tokenBridge, CoreBridge: coreBridge}
}

// NativeTransfer lists the accounts of a transfer of a Solana-native token.
type NativeTransfer struct {
	Payer           solana.PublicKey
	Config          solana.PublicKey
	From            solana.PublicKey
	Mint            solana.PublicKey
	Custody         solana.PublicKey
	AuthoritySigner solana.PublicKey
	CustodySigner   solana.PublicKey
	BridgeConfig    solana.PublicKey
	Message         solana.PublicKey
	Emitter         solana.PublicKey
	Sequence        solana.PublicKey
	FeeCollector    solana.PublicKey
}

// WrappedTransfer lists the accounts of a transfer of a token the portal minted as a wrapped asset.
type WrappedTransfer struct {
	Payer           solana.PublicKey
	Config          solana.PublicKey
	From            solana.PublicKey
	FromOwner       solana.PublicKey
	WrappedMint     solana.PublicKey
	WrappedMeta     solana.PublicKey
	AuthoritySigner solana.PublicKey
	BridgeConfig    solana.PublicKey
	Message         solana.PublicKey
	Emitter         solana.PublicKey
	Sequence        solana.PublicKey
	FeeCollector    solana.PublicKey
}

func (p *Portal) TransferNative(accs NativeTransfer, data TransferData) (solana.Instruction, error) {
	b, err := data.encode(InstructionTransferNative)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.TokenBridge, solana.AccountMetaSlice{
		solana.NewAccountMeta(accs.Payer, true, true),
		solana.NewAccountMeta(accs.Config, false, false),
		solana.NewAccountMeta(accs.From, true, false),
		solana.NewAccountMeta(accs.Mint, true, false),
		solana.NewAccountMeta(accs.Custody, true, false),
		solana.NewAccountMeta(accs.AuthoritySigner, false, false),
		solana.NewAccountMeta(accs.CustodySigner, false, false),
		solana.NewAccountMeta(accs.BridgeConfig, true, false),
		solana.NewAccountMeta(accs.Message, true, true),
		solana.NewAccountMeta(accs.Emitter, false, false),
		solana.NewAccountMeta(accs.Sequence, true, false),
		solana.NewAccountMeta(accs.FeeCollector, true, false),
		solana.NewAccountMeta(solana.SysVarClockPubkey, false, false),
		// Dependencies
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		// Programs
		solana.NewAccountMeta(p.CoreBridge, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, b), nil
}

func (p *Portal) TransferWrapped(accs WrappedTransfer, data TransferData) (solana.Instruction, error) {
	b, err := data.encode(InstructionTransferWrapped)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.TokenBridge, solana.AccountMetaSlice{
		solana.NewAccountMeta(accs.Payer, true, true),
		solana.NewAccountMeta(accs.Config, false, false),
		solana.NewAccountMeta(accs.From, true, false),
		solana.NewAccountMeta(accs.FromOwner, false, true),
		solana.NewAccountMeta(accs.WrappedMint, true, false),
		solana.NewAccountMeta(accs.WrappedMeta, false, false),
		solana.NewAccountMeta(accs.AuthoritySigner, false, false),
		solana.NewAccountMeta(accs.BridgeConfig, true, false),
		solana.NewAccountMeta(accs.Message, true, true),
		solana.NewAccountMeta(accs.Emitter, false, false),
		solana.NewAccountMeta(accs.Sequence, true, false),
		solana.NewAccountMeta(accs.FeeCollector, true, false),
		solana.NewAccountMeta(solana.SysVarClockPubkey, false, false),
		// Dependencies
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		// Programs
		solana.NewAccountMeta(p.CoreBridge, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, b), nil
}

// Approve delegates exactly amount tokens of from to delegate. The portal pulls the transfer amount through
// its authority signer, so it has to be approved first.
func Approve(amount uint64, from, delegate, owner solana.PublicKey) (solana.Instruction, error) {
	ix, err := token.NewApproveInstruction(amount, from, delegate, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build approve instruction: %w", err)
	}
	return ix, nil
}
