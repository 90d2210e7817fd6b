// Package bridge is the messenger's view of the Wormhole core bridge on Solana.
//
// The core bridge verifies guardian signatures and writes the verified message into a "posted VAA" account whose
// address is derived from the message hash. The messenger never re-checks signatures; it recomputes the hash of
// the message it was handed and insists that the account it read lives at the address the bridge would have used.
package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

const (
	accountPrefixVAA        = "vaa"
	accountPrefixReliable   = "msg"
	accountPrefixUnreliable = "msu"

	postedVAASeed = "PostedVAA"
)

var ErrNotPostedMessage = errors.New("account is not a posted message account")

// PostedMessage is the borsh layout of a posted VAA (or posted message) account, after the 3-byte prefix.
type PostedMessage struct {
	VaaVersion          uint8
	ConsistencyLevel    uint8
	VaaTime             uint32
	VaaSignatureAccount vaa.Address
	SubmissionTime      uint32
	Nonce               uint32
	Sequence            uint64
	EmitterChain        uint16
	EmitterAddress      vaa.Address
	Payload             []byte
}

// ParsePostedMessage decodes the data of a posted VAA account.
func ParsePostedMessage(data []byte) (*PostedMessage, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotPostedMessage, len(data))
	}

	switch string(data[:3]) {
	case accountPrefixVAA, accountPrefixReliable, accountPrefixUnreliable:
	default:
		return nil, fmt.Errorf("%w: prefix %q", ErrNotPostedMessage, data[:3])
	}

	msg := &PostedMessage{}
	if err := borsh.Deserialize(msg, data[3:]); err != nil {
		return nil, fmt.Errorf("failed to deserialize posted message: %w", err)
	}

	return msg, nil
}

// MarshalAccount produces posted VAA account data for msg. It is the inverse of ParsePostedMessage.
func (msg *PostedMessage) MarshalAccount() ([]byte, error) {
	b, err := borsh.Serialize(*msg)
	if err != nil {
		return nil, err
	}
	return append([]byte(accountPrefixVAA), b...), nil
}

// FromVAA returns the posted message the core bridge writes when v is posted to it.
func FromVAA(v *vaa.VAA) *PostedMessage {
	return &PostedMessage{
		VaaVersion:       v.Version,
		ConsistencyLevel: v.ConsistencyLevel,
		VaaTime:          uint32(v.Timestamp.Unix()),
		SubmissionTime:   uint32(v.Timestamp.Unix()),
		Nonce:            v.Nonce,
		Sequence:         v.Sequence,
		EmitterChain:     uint16(v.EmitterChain),
		EmitterAddress:   v.EmitterAddress,
		Payload:          v.Payload,
	}
}

// ChainID returns the emitter chain as a Wormhole chain id.
func (msg *PostedMessage) ChainID() vaa.ChainID {
	return vaa.ChainID(msg.EmitterChain)
}

/*
SECURITY: Do not change this code! The field order and widths must match what the guardians sign, otherwise the
hash (and therefore the posted VAA address) of a legitimate message will not match.
*/
func (msg *PostedMessage) Body() []byte {
	buf := new(bytes.Buffer)
	vaa.MustWrite(buf, binary.BigEndian, msg.VaaTime)
	vaa.MustWrite(buf, binary.BigEndian, msg.Nonce)
	vaa.MustWrite(buf, binary.BigEndian, msg.EmitterChain)
	buf.Write(msg.EmitterAddress[:])
	vaa.MustWrite(buf, binary.BigEndian, msg.Sequence)
	vaa.MustWrite(buf, binary.BigEndian, msg.ConsistencyLevel)
	buf.Write(msg.Payload)

	return buf.Bytes()
}

// Hash is the keccak256 of Body(). The core bridge keys posted VAA accounts by it.
func (msg *PostedMessage) Hash() common.Hash {
	return crypto.Keccak256Hash(msg.Body())
}

// MessageID returns a human-readable emitter_chain/emitter_address/sequence tuple.
func (msg *PostedMessage) MessageID() string {
	return fmt.Sprintf("%d/%s/%d", msg.EmitterChain, msg.EmitterAddress, msg.Sequence)
}

// PostedVAAAddress derives the address the core bridge uses for the posted VAA with the given hash.
func PostedVAAAddress(coreBridge solana.PublicKey, hash common.Hash) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(postedVAASeed), hash.Bytes()}, coreBridge)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive posted vaa address: %w", err)
	}
	return addr, nil
}
