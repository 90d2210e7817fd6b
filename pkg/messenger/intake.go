package messenger

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/certusone/wormhole/messenger/pkg/bridge"
	"github.com/certusone/wormhole/messenger/pkg/db"
	"github.com/certusone/wormhole/messenger/pkg/payload"
	"github.com/gagliardetto/solana-go"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

type StoreMsgRequest struct {
	// PostedVAA is the core bridge account holding the verified message.
	PostedVAA solana.PublicKey
	// Sender is the cross-chain identity the caller authenticated as. The payload must name it as its sender
	// (or, for a stream withdrawal, as its withdrawer). The message is stored under it.
	Sender vaa.Address
	// CurrentCount is an opaque correlation value echoed in the StoredMsg event.
	CurrentCount uint8
}

type StoreMsgResult struct {
	Opcode    payload.Opcode
	MessageID string
	TxnCount  uint64
}

// StoreMsg accepts a verified inbound message and stores its payload for the sender. Nothing is written unless
// every check passes.
//
// The engine does not deduplicate messages. A message lives at exactly one posted VAA account and the core
// bridge never reuses it, so replay protection is inherited from the bridge.
func (m *Messenger) StoreMsg(ctx context.Context, req StoreMsgRequest) (res *StoreMsgResult, err error) {
	defer func() { observe("store_msg", err) }()

	// Posted VAA accounts are immutable once written, so they can be read before taking the lock.
	data, err := m.accounts.PostedMessageAccount(ctx, req.PostedVAA)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posted vaa %s: %w", req.PostedVAA, err)
	}
	msg, err := bridge.ParsePostedMessage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPostedVAA, err)
	}

	expected, err := bridge.PostedVAAAddress(m.programs.CoreBridge, msg.Hash())
	if err != nil {
		return nil, err
	}
	if !expected.Equals(req.PostedVAA) {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrVAAKeyMismatch, expected, req.PostedVAA)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res = &StoreMsgResult{MessageID: msg.MessageID()}
	err = m.db.Update(func(txn *db.Txn) error {
		if err := checkEmitter(txn, msg); err != nil {
			return err
		}

		if len(msg.Payload) == 0 {
			return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
		}
		res.Opcode = payload.Opcode(msg.Payload[0])

		count, err := txn.TxnCount()
		if err != nil {
			return err
		}
		if count.Count == math.MaxUint64 {
			return ErrOverflow
		}
		count.Count++
		res.TxnCount = count.Count

		p, err := payload.Decode(msg.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}

		storage, err := dataStorage(txn, req.Sender)
		if err != nil {
			return err
		}
		if err := applyPayload(storage, p, uint64(msg.EmitterChain), req.Sender); err != nil {
			return err
		}

		if err := txn.SetTxnCount(count); err != nil {
			return err
		}
		return txn.SetDataStorage(req.Sender, storage)
	})
	if err != nil {
		return nil, err
	}

	messagesStored.WithLabelValues(res.Opcode.String()).Inc()
	txnCount.Set(float64(res.TxnCount))
	m.logger.Info("stored message",
		zap.String("message_id", res.MessageID),
		zap.Stringer("opcode", res.Opcode),
		zap.Stringer("sender", req.Sender),
		zap.Uint64("txn_count", res.TxnCount))
	m.events.Emit(StoredMsg{MsgType: res.Opcode, Sender: req.Sender, Count: req.CurrentCount, TxnCount: res.TxnCount})
	return res, nil
}

// checkEmitter is the only authenticity check on a message: the core bridge verified the signatures, this
// restricts trust to the one emitter registered for the message's chain.
func checkEmitter(txn *db.Txn, msg *bridge.PostedMessage) error {
	emitter, err := txn.Emitter(msg.ChainID())
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: chain %d is not registered", ErrVAAEmitterMismatch, msg.EmitterChain)
	}
	if err != nil {
		return err
	}

	registered, err := hex.DecodeString(emitter.EmitterAddr)
	if err != nil {
		return fmt.Errorf("%w: registered emitter of chain %d is not hex: %v", ErrVAAEmitterMismatch, msg.EmitterChain, err)
	}
	if emitter.ChainID != msg.ChainID() || !bytes.Equal(registered, msg.EmitterAddress[:]) {
		return fmt.Errorf("%w: chain %d emitter %s", ErrVAAEmitterMismatch, msg.EmitterChain, msg.EmitterAddress)
	}
	return nil
}

// applyPayload overwrites the fields of s that p carries and checks that p was sent by caller.
func applyPayload(s *db.DataStorage, p payload.Payload, fromChain uint64, caller vaa.Address) error {
	var identity vaa.Address

	switch p := p.(type) {
	case payload.Deposit:
		s.Amount = p.Amount
		s.Sender = p.Sender
		s.TokenMint = p.TokenMint
		identity = p.Sender
	case payload.Stream:
		s.StartTime = p.StartTime
		s.EndTime = p.EndTime
		s.CanUpdate = p.CanUpdate
		s.CanCancel = p.CanCancel
		s.Amount = p.Amount
		s.Sender = p.Sender
		s.Receiver = p.Receiver
		s.TokenMint = p.TokenMint
		identity = p.Sender
	case payload.StreamUpdate:
		s.StartTime = p.StartTime
		s.EndTime = p.EndTime
		s.Amount = p.Amount
		s.Sender = p.Sender
		s.Receiver = p.Receiver
		s.TokenMint = p.TokenMint
		s.DataAccount = p.DataAccount
		identity = p.Sender
	case payload.Pause:
		s.Sender = p.Depositor
		s.Receiver = p.Receiver
		s.TokenMint = p.TokenMint
		s.DataAccount = p.DataAccount
		identity = p.Depositor
	case payload.WithdrawStream:
		// Sent by the stream's receiver.
		s.Sender = p.Depositor
		s.Receiver = p.Withdrawer
		s.TokenMint = p.TokenMint
		s.DataAccount = p.DataAccount
		identity = p.Withdrawer
	case payload.CancelStream:
		s.Sender = p.Depositor
		s.Receiver = p.Receiver
		s.TokenMint = p.TokenMint
		s.DataAccount = p.DataAccount
		identity = p.Depositor
	case payload.Withdraw:
		s.Amount = p.Amount
		s.Sender = p.Withdrawer
		s.TokenMint = p.TokenMint
		identity = p.Withdrawer
	case payload.InstantTransfer:
		s.Amount = p.Amount
		s.Sender = p.Sender
		s.Receiver = p.Withdrawer
		s.TokenMint = p.TokenMint
		identity = p.Sender
	case payload.DirectTransfer:
		s.Amount = p.Amount
		s.Sender = p.Sender
		s.Receiver = p.Withdrawer
		s.TokenMint = p.TokenMint
		identity = p.Sender
	default:
		return fmt.Errorf("%w: opcode %d", ErrInvalidPayload, p.Opcode())
	}
	s.FromChainID = fromChain

	if identity != caller {
		return fmt.Errorf("%w: payload names %s, caller is %s", ErrInvalidSenderWallet, identity, caller)
	}
	return nil
}
