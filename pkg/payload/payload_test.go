package payload

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

var (
	sender   = vaa.Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x90, 0xfb, 0x16, 0x72, 0x08, 0xaf, 0x45, 0x5b, 0xb1, 0x37, 0x78, 0x01, 0x63, 0xb7, 0xb7, 0xa9, 0xa1, 0x0c, 0x16, 0x01}
	receiver = vaa.Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11, 0x22, 0x33, 0x02}
	mint     = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	stream   = solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
)

// depositBytes lays a deposit out by hand so the test does not depend on Serialize.
func depositBytes(amount uint64, toChain byte) []byte {
	b := make([]byte, DepositLength)
	b[0] = byte(OpDeposit)
	binary.BigEndian.PutUint64(b[1:9], amount)
	b[40] = toChain
	copy(b[41:73], sender[:])
	copy(b[73:105], mint[:])
	return b
}

func TestDecodeDeposit(t *testing.T) {
	p, err := Decode(depositBytes(1000, 2))
	require.NoError(t, err)

	d, ok := p.(Deposit)
	require.True(t, ok)
	assert.Equal(t, OpDeposit, d.Opcode())
	assert.Equal(t, uint64(1000), d.Amount)
	assert.Equal(t, uint64(2), d.ToChain.Uint64())
	assert.Equal(t, sender, d.Sender)
	assert.Equal(t, mint, d.TokenMint)
}

func TestDecodeStreamFlags(t *testing.T) {
	s := Stream{
		StartTime: 1700000000,
		EndTime:   1700086400,
		Amount:    5_000_000,
		ToChain:   uint256.NewInt(1),
		Sender:    sender,
		Receiver:  receiver,
		CanUpdate: true,
		CanCancel: false,
		TokenMint: mint,
	}
	b := s.Serialize()
	require.Len(t, b, StreamLength)

	// can_update lives at 121..129 and can_cancel at 129..137.
	assert.Equal(t, uint64(1), binary.BigEndian.Uint64(b[121:129]))
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(b[129:137]))

	// Any value other than exactly 1 is false.
	binary.BigEndian.PutUint64(b[129:137], 2)
	p, err := Decode(b)
	require.NoError(t, err)
	decoded := p.(Stream)
	assert.True(t, decoded.CanUpdate)
	assert.False(t, decoded.CanCancel)
	assert.Equal(t, receiver, decoded.Receiver)
	assert.Equal(t, mint, decoded.TokenMint)
}

func TestDecodeRoundTrip(t *testing.T) {
	toChain := new(uint256.Int).Lsh(uint256.NewInt(1), 200)

	tests := []struct {
		name   string
		in     Payload
		length int
	}{
		{"deposit", Deposit{Amount: 7, ToChain: toChain, Sender: sender, TokenMint: mint}, DepositLength},
		{"stream", Stream{StartTime: 1, EndTime: 2, Amount: 3, ToChain: toChain, Sender: sender, Receiver: receiver, CanUpdate: true, CanCancel: true, TokenMint: mint}, StreamLength},
		{"stream_update", StreamUpdate{StartTime: 4, EndTime: 5, Amount: 6, ToChain: toChain, Sender: sender, Receiver: receiver, TokenMint: mint, DataAccount: stream}, StreamUpdateLength},
		{"pause", Pause{ToChain: toChain, Depositor: sender, TokenMint: mint, Receiver: receiver, DataAccount: stream}, PauseLength},
		{"withdraw_stream", WithdrawStream{ToChain: toChain, Withdrawer: receiver, TokenMint: mint, Depositor: sender, DataAccount: stream}, WithdrawStreamLength},
		{"cancel_stream", CancelStream{ToChain: toChain, Depositor: sender, TokenMint: mint, Receiver: receiver, DataAccount: stream}, CancelStreamLength},
		{"withdraw", Withdraw{Amount: 8, ToChain: toChain, Withdrawer: sender, TokenMint: mint}, WithdrawLength},
		{"instant_transfer", InstantTransfer{Amount: 9, ToChain: toChain, Sender: sender, TokenMint: mint, Withdrawer: receiver}, InstantTransferLength},
		{"direct_transfer", DirectTransfer{Amount: 10, ToChain: toChain, Sender: sender, TokenMint: mint, Withdrawer: receiver}, DirectTransferLength},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.in.Serialize()
			require.Len(t, b, tc.length)
			assert.Equal(t, tc.length, tc.in.Opcode().Length())
			assert.Equal(t, tc.name, tc.in.Opcode().String())

			out, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tc.in, out)
		})
	}
}

func TestDecodeShortPayload(t *testing.T) {
	for _, op := range []Opcode{OpStream, OpWithdrawStream, OpDeposit, OpPause, OpWithdraw, OpInstantTransfer, OpStreamUpdate, OpCancelStream, OpDirectTransfer} {
		b := make([]byte, op.Length()-1)
		b[0] = byte(op)
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrShortPayload, op.String())
	}

	// Just the opcode.
	_, err := Decode([]byte{byte(OpDeposit)})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestDecodeUnknownOpcode(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	for _, op := range []byte{0, 1, 3, 5, 15, 18, 255} {
		b := make([]byte, StreamUpdateLength)
		b[0] = op
		_, err := Decode(b)
		assert.ErrorIs(t, err, ErrUnknownOpcode)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	b := append(depositBytes(42, 1), 0xde, 0xad, 0xbe, 0xef)
	p, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), p.(Deposit).Amount)
}

func TestSerializeNilToChain(t *testing.T) {
	b := Withdraw{Amount: 1, Withdrawer: sender, TokenMint: mint}.Serialize()
	assert.Equal(t, make([]byte, 32), b[9:41])
}
