package bridge

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

var coreBridge = solana.MustPublicKeyFromBase58("Bridge1p5gheXUvJ6jGWGeCsgPKgnE3YgdGKRVCMY9o")

func testMessage() *PostedMessage {
	emitter, _ := vaa.StringToAddress("0000000000000000000000000290fb167208af455bb137780163b7b7a9a10c16")
	return &PostedMessage{
		VaaVersion:       1,
		ConsistencyLevel: 15,
		VaaTime:          1700000000,
		SubmissionTime:   1700000042,
		Nonce:            7,
		Sequence:         99,
		EmitterChain:     uint16(vaa.ChainIDEthereum),
		EmitterAddress:   emitter,
		Payload:          []byte{6, 1, 2, 3},
	}
}

func TestBodyLayout(t *testing.T) {
	msg := testMessage()
	b := msg.Body()

	require.Len(t, b, 4+4+2+32+8+1+len(msg.Payload))
	assert.Equal(t, msg.VaaTime, binary.BigEndian.Uint32(b[0:4]))
	assert.Equal(t, msg.Nonce, binary.BigEndian.Uint32(b[4:8]))
	assert.Equal(t, msg.EmitterChain, binary.BigEndian.Uint16(b[8:10]))
	assert.Equal(t, msg.EmitterAddress[:], b[10:42])
	assert.Equal(t, msg.Sequence, binary.BigEndian.Uint64(b[42:50]))
	assert.Equal(t, msg.ConsistencyLevel, b[50])
	assert.Equal(t, msg.Payload, b[51:])

	// Signature account and submission time are not part of what the guardians sign.
	other := *msg
	other.SubmissionTime++
	other.VaaSignatureAccount = vaa.Address{1}
	assert.Equal(t, msg.Hash(), other.Hash())
	assert.Equal(t, crypto.Keccak256Hash(b), msg.Hash())
}

func TestFromVAA(t *testing.T) {
	emitter, err := vaa.StringToAddress("0000000000000000000000000290fb167208af455bb137780163b7b7a9a10c16")
	require.NoError(t, err)
	v := &vaa.VAA{
		Version:          1,
		Timestamp:        time.Unix(1700000000, 0),
		Nonce:            7,
		Sequence:         99,
		ConsistencyLevel: 15,
		EmitterChain:     vaa.ChainIDEthereum,
		EmitterAddress:   emitter,
		Payload:          []byte{6, 1, 2, 3},
	}

	msg := FromVAA(v)
	assert.Equal(t, vaa.ChainIDEthereum, msg.ChainID())
	// Guardians sign the double hash of the same body.
	assert.Equal(t, v.SigningDigest(), crypto.Keccak256Hash(msg.Hash().Bytes()))
}

func TestParsePostedMessageRoundTrip(t *testing.T) {
	msg := testMessage()
	data, err := msg.MarshalAccount()
	require.NoError(t, err)
	assert.Equal(t, "vaa", string(data[:3]))

	parsed, err := ParsePostedMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, parsed)
	assert.Equal(t, vaa.ChainIDEthereum, parsed.ChainID())
	assert.Equal(t, "2/0000000000000000000000000290fb167208af455bb137780163b7b7a9a10c16/99", parsed.MessageID())

	// Message accounts written by post_message share the layout.
	copy(data, "msg")
	_, err = ParsePostedMessage(data)
	require.NoError(t, err)
}

func TestParsePostedMessageRejectsOtherAccounts(t *testing.T) {
	_, err := ParsePostedMessage([]byte("va"))
	assert.ErrorIs(t, err, ErrNotPostedMessage)

	data, err := testMessage().MarshalAccount()
	require.NoError(t, err)
	copy(data, "xyz")
	_, err = ParsePostedMessage(data)
	assert.ErrorIs(t, err, ErrNotPostedMessage)

	// Truncated payload vector.
	data, err = testMessage().MarshalAccount()
	require.NoError(t, err)
	_, err = ParsePostedMessage(data[:len(data)-2])
	assert.Error(t, err)
}

func TestPostedVAAAddress(t *testing.T) {
	msg := testMessage()
	addr, err := PostedVAAAddress(coreBridge, msg.Hash())
	require.NoError(t, err)

	want, _, err := solana.FindProgramAddress([][]byte{[]byte("PostedVAA"), msg.Hash().Bytes()}, coreBridge)
	require.NoError(t, err)
	assert.Equal(t, want, addr)

	msg.Sequence++
	other, err := PostedVAAAddress(coreBridge, msg.Hash())
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

// rpcServer answers getAccountInfo with the given owner and data. A nil data returns a null value.
func rpcServer(t *testing.T, owner solana.PublicKey, data []byte, calls *int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getAccountInfo", req.Method)

		var value interface{}
		if data != nil {
			value = map[string]interface{}{
				"data":       []string{base64.StdEncoding.EncodeToString(data), "base64"},
				"executable": false,
				"lamports":   1000,
				"owner":      owner.String(),
				"rentEpoch":  0,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": 1},
				"value":   value,
			},
		}))
	}))
}

func TestRPCAccountSource(t *testing.T) {
	data, err := testMessage().MarshalAccount()
	require.NoError(t, err)
	key := solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	t.Run("ok", func(t *testing.T) {
		calls := 0
		srv := rpcServer(t, coreBridge, data, &calls)
		defer srv.Close()

		src := NewRPCAccountSource(zap.NewNop(), srv.URL, coreBridge, rpc.CommitmentFinalized)
		got, err := src.PostedMessageAccount(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		assert.Equal(t, 1, calls)
	})

	t.Run("wrong owner is not retried", func(t *testing.T) {
		calls := 0
		srv := rpcServer(t, solana.SystemProgramID, data, &calls)
		defer srv.Close()

		src := NewRPCAccountSource(zap.NewNop(), srv.URL, coreBridge, rpc.CommitmentFinalized)
		_, err := src.PostedMessageAccount(context.Background(), key)
		assert.ErrorIs(t, err, ErrInvalidOwner)
		assert.Equal(t, 1, calls)
	})

	t.Run("missing account", func(t *testing.T) {
		calls := 0
		srv := rpcServer(t, coreBridge, nil, &calls)
		defer srv.Close()

		src := NewRPCAccountSource(zap.NewNop(), srv.URL, coreBridge, rpc.CommitmentFinalized)
		_, err := src.PostedMessageAccount(context.Background(), key)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.Equal(t, 1, calls)
	})
}
