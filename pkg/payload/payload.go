// Package payload implements the binary messages the remote stream contracts publish through Wormhole.
//
// The first byte of a payload is an opcode. The remaining bytes are a fixed-width, big endian record whose
// layout depends only on the opcode: 8-byte unsigned integers (amounts, timestamps and 0/1 flags), a 32-byte
// destination chain id and 32-byte identities (remote wallets) or Solana public keys (mints, stream accounts).
package payload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

type Opcode uint8

const (
	OpStream          Opcode = 2
	OpWithdrawStream  Opcode = 4
	OpDeposit         Opcode = 6
	OpPause           Opcode = 8
	OpWithdraw        Opcode = 10
	OpInstantTransfer Opcode = 12
	OpStreamUpdate    Opcode = 14
	OpCancelStream    Opcode = 16
	OpDirectTransfer  Opcode = 17
)

// Encoded lengths, including the opcode byte.
const (
	DepositLength         = 1 + 8 + 32 + 32 + 32
	StreamLength          = 1 + 8 + 8 + 8 + 32 + 32 + 32 + 8 + 8 + 32
	StreamUpdateLength    = 1 + 8 + 8 + 8 + 32 + 32 + 32 + 32 + 32
	PauseLength           = 1 + 32 + 32 + 32 + 32 + 32
	WithdrawStreamLength  = PauseLength
	CancelStreamLength    = PauseLength
	WithdrawLength        = DepositLength
	InstantTransferLength = 1 + 8 + 32 + 32 + 32 + 32
	DirectTransferLength  = InstantTransferLength
)

var (
	ErrUnknownOpcode = errors.New("unknown payload opcode")
	ErrShortPayload  = errors.New("payload too short")
)

func (o Opcode) String() string {
	switch o {
	case OpStream:
		return "stream"
	case OpWithdrawStream:
		return "withdraw_stream"
	case OpDeposit:
		return "deposit"
	case OpPause:
		return "pause"
	case OpWithdraw:
		return "withdraw"
	case OpInstantTransfer:
		return "instant_transfer"
	case OpStreamUpdate:
		return "stream_update"
	case OpCancelStream:
		return "cancel_stream"
	case OpDirectTransfer:
		return "direct_transfer"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// Length returns the encoded length of the opcode's layout, or 0 for an unknown opcode.
func (o Opcode) Length() int {
	switch o {
	case OpStream:
		return StreamLength
	case OpWithdrawStream:
		return WithdrawStreamLength
	case OpDeposit:
		return DepositLength
	case OpPause:
		return PauseLength
	case OpWithdraw:
		return WithdrawLength
	case OpInstantTransfer:
		return InstantTransferLength
	case OpStreamUpdate:
		return StreamUpdateLength
	case OpCancelStream:
		return CancelStreamLength
	case OpDirectTransfer:
		return DirectTransferLength
	default:
		return 0
	}
}

// Payload is one decoded message. The concrete type is determined by the opcode.
type Payload interface {
	Opcode() Opcode
	Serialize() []byte
}

type (
	// Deposit moves tokens from the remote sender into its Solana custody PDA.
	Deposit struct {
		Amount    uint64
		ToChain   *uint256.Int
		Sender    vaa.Address
		TokenMint solana.PublicKey
	}

	// Stream opens a time based payment stream from sender to receiver.
	Stream struct {
		StartTime uint64
		EndTime   uint64
		Amount    uint64
		ToChain   *uint256.Int
		Sender    vaa.Address
		Receiver  vaa.Address
		CanUpdate bool
		CanCancel bool
		TokenMint solana.PublicKey
	}

	// StreamUpdate changes the schedule or amount of an existing stream.
	StreamUpdate struct {
		StartTime   uint64
		EndTime     uint64
		Amount      uint64
		ToChain     *uint256.Int
		Sender      vaa.Address
		Receiver    vaa.Address
		TokenMint   solana.PublicKey
		DataAccount solana.PublicKey
	}

	// Pause pauses or resumes a stream. It is sent by the depositor.
	Pause struct {
		ToChain     *uint256.Int
		Depositor   vaa.Address
		TokenMint   solana.PublicKey
		Receiver    vaa.Address
		DataAccount solana.PublicKey
	}

	// WithdrawStream withdraws the streamed amount. It is sent by the stream receiver.
	WithdrawStream struct {
		ToChain     *uint256.Int
		Withdrawer  vaa.Address
		TokenMint   solana.PublicKey
		Depositor   vaa.Address
		DataAccount solana.PublicKey
	}

	// CancelStream cancels a stream. It is sent by the depositor.
	CancelStream struct {
		ToChain     *uint256.Int
		Depositor   vaa.Address
		TokenMint   solana.PublicKey
		Receiver    vaa.Address
		DataAccount solana.PublicKey
	}

	// Withdraw returns deposited, unstreamed tokens to the sender.
	Withdraw struct {
		Amount     uint64
		ToChain    *uint256.Int
		Withdrawer vaa.Address
		TokenMint  solana.PublicKey
	}

	// InstantTransfer pays the withdrawer out of the sender's deposit immediately.
	InstantTransfer struct {
		Amount     uint64
		ToChain    *uint256.Int
		Sender     vaa.Address
		TokenMint  solana.PublicKey
		Withdrawer vaa.Address
	}

	// DirectTransfer sends the sender's deposit back out through the portal to the withdrawer.
	DirectTransfer struct {
		Amount     uint64
		ToChain    *uint256.Int
		Sender     vaa.Address
		TokenMint  solana.PublicKey
		Withdrawer vaa.Address
	}
)

func (Deposit) Opcode() Opcode         { return OpDeposit }
func (Stream) Opcode() Opcode          { return OpStream }
func (StreamUpdate) Opcode() Opcode    { return OpStreamUpdate }
func (Pause) Opcode() Opcode           { return OpPause }
func (WithdrawStream) Opcode() Opcode  { return OpWithdrawStream }
func (CancelStream) Opcode() Opcode    { return OpCancelStream }
func (Withdraw) Opcode() Opcode        { return OpWithdraw }
func (InstantTransfer) Opcode() Opcode { return OpInstantTransfer }
func (DirectTransfer) Opcode() Opcode  { return OpDirectTransfer }

// Decode parses encoded into the payload type selected by encoded[0]. Buffers shorter than the opcode's
// layout are rejected with ErrShortPayload; bytes past the layout are ignored.
func Decode(encoded []byte) (Payload, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnknownOpcode)
	}

	op := Opcode(encoded[0])
	want := op.Length()
	if want == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, encoded[0])
	}
	if len(encoded) < want {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPayload, op, want, len(encoded))
	}

	r := &reader{buf: encoded[:want], off: 1}
	switch op {
	case OpDeposit:
		return Deposit{
			Amount:    r.u64(),
			ToChain:   r.u256(),
			Sender:    r.address(),
			TokenMint: r.pubkey(),
		}, nil
	case OpStream:
		return Stream{
			StartTime: r.u64(),
			EndTime:   r.u64(),
			Amount:    r.u64(),
			ToChain:   r.u256(),
			Sender:    r.address(),
			Receiver:  r.address(),
			CanUpdate: r.flag(),
			CanCancel: r.flag(),
			TokenMint: r.pubkey(),
		}, nil
	case OpStreamUpdate:
		return StreamUpdate{
			StartTime:   r.u64(),
			EndTime:     r.u64(),
			Amount:      r.u64(),
			ToChain:     r.u256(),
			Sender:      r.address(),
			Receiver:    r.address(),
			TokenMint:   r.pubkey(),
			DataAccount: r.pubkey(),
		}, nil
	case OpPause:
		return Pause{
			ToChain:     r.u256(),
			Depositor:   r.address(),
			TokenMint:   r.pubkey(),
			Receiver:    r.address(),
			DataAccount: r.pubkey(),
		}, nil
	case OpWithdrawStream:
		return WithdrawStream{
			ToChain:     r.u256(),
			Withdrawer:  r.address(),
			TokenMint:   r.pubkey(),
			Depositor:   r.address(),
			DataAccount: r.pubkey(),
		}, nil
	case OpCancelStream:
		return CancelStream{
			ToChain:     r.u256(),
			Depositor:   r.address(),
			TokenMint:   r.pubkey(),
			Receiver:    r.address(),
			DataAccount: r.pubkey(),
		}, nil
	case OpWithdraw:
		return Withdraw{
			Amount:     r.u64(),
			ToChain:    r.u256(),
			Withdrawer: r.address(),
			TokenMint:  r.pubkey(),
		}, nil
	case OpInstantTransfer:
		return InstantTransfer{
			Amount:     r.u64(),
			ToChain:    r.u256(),
			Sender:     r.address(),
			TokenMint:  r.pubkey(),
			Withdrawer: r.address(),
		}, nil
	case OpDirectTransfer:
		return DirectTransfer{
			Amount:     r.u64(),
			ToChain:    r.u256(),
			Sender:     r.address(),
			TokenMint:  r.pubkey(),
			Withdrawer: r.address(),
		}, nil
	}

	// Unreachable, Length() already rejected unknown opcodes.
	return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, encoded[0])
}

// reader walks a buffer whose length has already been checked against the layout.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u64() uint64 {
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v
}

func (r *reader) flag() bool {
	return r.u64() == 1
}

func (r *reader) u256() *uint256.Int {
	v := new(uint256.Int).SetBytes(r.buf[r.off : r.off+32])
	r.off += 32
	return v
}

func (r *reader) address() (a vaa.Address) {
	copy(a[:], r.buf[r.off:r.off+32])
	r.off += 32
	return a
}

func (r *reader) pubkey() solana.PublicKey {
	p := solana.PublicKeyFromBytes(r.buf[r.off : r.off+32])
	r.off += 32
	return p
}

// writer builds the canonical encoding of a payload.
type writer struct {
	buf *bytes.Buffer
}

func newWriter(op Opcode) *writer {
	w := &writer{buf: new(bytes.Buffer)}
	w.buf.Grow(op.Length())
	vaa.MustWrite(w.buf, binary.BigEndian, uint8(op))
	return w
}

func (w *writer) u64(v uint64) *writer {
	vaa.MustWrite(w.buf, binary.BigEndian, v)
	return w
}

func (w *writer) flag(v bool) *writer {
	if v {
		return w.u64(1)
	}
	return w.u64(0)
}

func (w *writer) u256(v *uint256.Int) *writer {
	var b [32]byte
	if v != nil {
		b = v.Bytes32()
	}
	w.buf.Write(b[:])
	return w
}

func (w *writer) bytes32(b [32]byte) *writer {
	w.buf.Write(b[:])
	return w
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}

func (p Deposit) Serialize() []byte {
	return newWriter(OpDeposit).u64(p.Amount).u256(p.ToChain).bytes32(p.Sender).bytes32(p.TokenMint).bytes()
}

func (p Stream) Serialize() []byte {
	return newWriter(OpStream).
		u64(p.StartTime).u64(p.EndTime).u64(p.Amount).u256(p.ToChain).
		bytes32(p.Sender).bytes32(p.Receiver).
		flag(p.CanUpdate).flag(p.CanCancel).
		bytes32(p.TokenMint).bytes()
}

func (p StreamUpdate) Serialize() []byte {
	return newWriter(OpStreamUpdate).
		u64(p.StartTime).u64(p.EndTime).u64(p.Amount).u256(p.ToChain).
		bytes32(p.Sender).bytes32(p.Receiver).
		bytes32(p.TokenMint).bytes32(p.DataAccount).bytes()
}

func (p Pause) Serialize() []byte {
	return newWriter(OpPause).
		u256(p.ToChain).bytes32(p.Depositor).bytes32(p.TokenMint).bytes32(p.Receiver).bytes32(p.DataAccount).bytes()
}

func (p WithdrawStream) Serialize() []byte {
	return newWriter(OpWithdrawStream).
		u256(p.ToChain).bytes32(p.Withdrawer).bytes32(p.TokenMint).bytes32(p.Depositor).bytes32(p.DataAccount).bytes()
}

func (p CancelStream) Serialize() []byte {
	return newWriter(OpCancelStream).
		u256(p.ToChain).bytes32(p.Depositor).bytes32(p.TokenMint).bytes32(p.Receiver).bytes32(p.DataAccount).bytes()
}

func (p Withdraw) Serialize() []byte {
	return newWriter(OpWithdraw).u64(p.Amount).u256(p.ToChain).bytes32(p.Withdrawer).bytes32(p.TokenMint).bytes()
}

func (p InstantTransfer) Serialize() []byte {
	return newWriter(OpInstantTransfer).
		u64(p.Amount).u256(p.ToChain).bytes32(p.Sender).bytes32(p.TokenMint).bytes32(p.Withdrawer).bytes()
}

func (p DirectTransfer) Serialize() []byte {
	return newWriter(OpDirectTransfer).
		u64(p.Amount).u256(p.ToChain).bytes32(p.Sender).bytes32(p.TokenMint).bytes32(p.Withdrawer).bytes()
}
