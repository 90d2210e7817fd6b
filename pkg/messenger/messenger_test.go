package messenger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	"github.com/certusone/wormhole/messenger/pkg/bridge"
	"github.com/certusone/wormhole/messenger/pkg/common"
	"github.com/certusone/wormhole/messenger/pkg/db"
	"github.com/certusone/wormhole/messenger/pkg/pda"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

var (
	owner      = key(0xaa)
	sender     = vaa.Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x90, 0xfb, 0x16, 0x72, 0x08, 0xaf, 0x45, 0x5b, 0xb1, 0x37, 0x78, 0x01, 0x63, 0xb7, 0xb7, 0xa9, 0xa1, 0x0c, 0x16, 0x01}
	receiver   = vaa.Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11, 0x22, 0x33, 0x02}
	ethEmitter = vaa.Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x3e, 0xe1, 0x8b, 0x22, 0x14, 0xaf, 0xf9, 0x70, 0x00, 0xd9, 0x74, 0xcf, 0x64, 0x7e, 0x7c, 0x34, 0x7e, 0x8f, 0xa5, 0x85}
	mint       = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

// key returns a distinct, deterministic account key.
func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

type fakeAccounts struct {
	mu   sync.Mutex
	data map[solana.PublicKey][]byte
}

func (f *fakeAccounts) PostedMessageAccount(_ context.Context, k solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[k]
	if !ok {
		return nil, bridge.ErrAccountNotFound
	}
	return d, nil
}

type invocation struct {
	ix    solana.Instruction
	seeds [][]byte
}

type recordingInvoker struct {
	calls []invocation
	err   error
}

func (r *recordingInvoker) InvokeSigned(_ context.Context, ix solana.Instruction, seeds [][]byte) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, invocation{ix: ix, seeds: seeds})
	return nil
}

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Emit(e Event) {
	r.events = append(r.events, e)
}

func (r *recordingSink) last() Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type harness struct {
	m        *Messenger
	db       *db.Database
	programs common.ProgramAddresses
	accounts *fakeAccounts
	invoker  *recordingInvoker
	sink     *recordingSink
	sequence uint64
}

// newHarness returns an engine that is initialized by owner and trusts ethEmitter on Ethereum.
func newHarness(t *testing.T) *harness {
	h := newBareHarness(t)
	require.NoError(t, h.m.Initialize(context.Background(), owner))
	require.NoError(t, h.m.RegisterChain(context.Background(), owner, vaa.ChainIDEthereum, hex.EncodeToString(ethEmitter[:])))
	h.sink.events = nil
	return h
}

func newBareHarness(t *testing.T) *harness {
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	h := &harness{
		db:       database,
		programs: common.GetProgramAddresses(common.GoTest),
		accounts: &fakeAccounts{data: make(map[solana.PublicKey][]byte)},
		invoker:  &recordingInvoker{},
		sink:     &recordingSink{},
	}
	h.m, err = New(zap.NewNop(), database, h.programs, h.accounts, h.invoker, h.sink)
	require.NoError(t, err)
	return h
}

// post writes a posted VAA account for p at the address the core bridge would use and returns that address.
func (h *harness) post(t *testing.T, chain vaa.ChainID, emitter vaa.Address, p []byte) solana.PublicKey {
	h.sequence++
	msg := &bridge.PostedMessage{
		VaaVersion:       1,
		ConsistencyLevel: 1,
		VaaTime:          1700000000,
		SubmissionTime:   1700000000,
		Nonce:            7,
		Sequence:         h.sequence,
		EmitterChain:     uint16(chain),
		EmitterAddress:   emitter,
		Payload:          p,
	}
	data, err := msg.MarshalAccount()
	require.NoError(t, err)
	addr, err := bridge.PostedVAAAddress(h.programs.CoreBridge, msg.Hash())
	require.NoError(t, err)

	h.accounts.mu.Lock()
	h.accounts.data[addr] = data
	h.accounts.mu.Unlock()
	return addr
}

// store posts p from the registered Ethereum emitter and stores it for caller.
func (h *harness) store(t *testing.T, caller vaa.Address, p []byte) {
	_, err := h.m.StoreMsg(context.Background(), StoreMsgRequest{
		PostedVAA: h.post(t, vaa.ChainIDEthereum, ethEmitter, p),
		Sender:    caller,
	})
	require.NoError(t, err)
}

func (h *harness) derive(t *testing.T, identity vaa.Address) pda.Derived {
	d, err := h.m.DeriveAddress(identity, uint64(vaa.ChainIDEthereum))
	require.NoError(t, err)
	return d
}

// instructionData prefixes the borsh encoding of args with an 8 byte discriminator.
func instructionData(t *testing.T, args interface{}) []byte {
	b, err := borsh.Serialize(args)
	require.NoError(t, err)
	return append([]byte{1, 2, 3, 4, 5, 6, 7, 8}, b...)
}

func amountData(t *testing.T, amount uint64) []byte {
	return instructionData(t, TokenAmount{Amount: amount})
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func TestInitialize(t *testing.T) {
	h := newBareHarness(t)
	ctx := context.Background()

	_, err := h.m.Config()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, h.m.Initialize(ctx, owner))
	cfg, err := h.m.Config()
	require.NoError(t, err)
	assert.Equal(t, owner, cfg.Owner)
	assert.Equal(t, uint32(1), cfg.Nonce)
	assert.Equal(t, Initialized{Owner: owner, Nonce: 1}, h.sink.last())

	err = h.m.Initialize(ctx, key(1))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	cfg, err = h.m.Config()
	require.NoError(t, err)
	assert.Equal(t, owner, cfg.Owner)
}

func TestRegisterChain(t *testing.T) {
	ctx := context.Background()
	emitter := hex.EncodeToString(ethEmitter[:])

	t.Run("not initialized", func(t *testing.T) {
		h := newBareHarness(t)
		err := h.m.RegisterChain(ctx, owner, vaa.ChainIDEthereum, emitter)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	h := newHarness(t)

	tests := []struct {
		name    string
		caller  solana.PublicKey
		emitter string
		wantErr error
	}{
		{"too short", owner, emitter[:62], ErrInvalidEmitterAddress},
		{"too long", owner, emitter + "00", ErrInvalidEmitterAddress},
		{"not hex", owner, strings.Repeat("zz", 32), ErrInvalidEmitterAddress},
		{"not owner", key(1), emitter, ErrInvalidCaller},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := h.m.RegisterChain(ctx, tc.caller, vaa.ChainIDBSC, tc.emitter)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	emitters, err := h.m.Emitters()
	require.NoError(t, err)
	require.Len(t, emitters, 1)
	assert.Equal(t, emitter, emitters[0].EmitterAddr)

	// Registering again replaces the emitter and stores it lower case.
	require.NoError(t, h.m.RegisterChain(ctx, owner, vaa.ChainIDEthereum, strings.Repeat("AB", 32)))
	emitters, err = h.m.Emitters()
	require.NoError(t, err)
	require.Len(t, emitters, 1)
	assert.Equal(t, strings.Repeat("ab", 32), emitters[0].EmitterAddr)
	assert.Equal(t, RegisteredChain{ChainID: vaa.ChainIDEthereum, EmitterAddr: strings.Repeat("ab", 32)}, h.sink.last())
}
