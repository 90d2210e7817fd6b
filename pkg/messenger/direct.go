package messenger

import (
	"context"
	"fmt"
	"math"

	"github.com/certusone/wormhole/messenger/pkg/db"
	"github.com/certusone/wormhole/messenger/pkg/portal"
	"github.com/gagliardetto/solana-go"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// DirectTransferRequest moves the amount of a stored direct transfer message out through the token bridge.
type DirectTransferRequest struct {
	Status solana.PublicKey
	Sender vaa.Address
	// TargetChain is the chain the bridged tokens are sent to. The recipient is the stored receiver.
	TargetChain vaa.ChainID
	// Fee is the relayer fee passed to the token bridge.
	Fee uint64

	// Payer must be the configured owner.
	Payer solana.PublicKey
	// PdaSigner is the address derived for the sender. It owns From and signs the transfer.
	PdaSigner solana.PublicKey
	From      solana.PublicKey
	Mint      solana.PublicKey
	// PortalMessage is the fresh core bridge message account the transfer is published to.
	PortalMessage solana.PublicKey

	// WrappedMeta is the portal metadata of a wrapped mint. It is derived when left zero.
	WrappedMeta solana.PublicKey
}

// TransactionDirectTransferNative sends the stored amount of a native token to the stored receiver on
// TargetChain.
func (m *Messenger) TransactionDirectTransferNative(ctx context.Context, req DirectTransferRequest) error {
	return m.directTransfer(ctx, req, false)
}

// TransactionDirectTransferWrapped sends the stored amount of a wrapped token back to the stored receiver on
// TargetChain.
func (m *Messenger) TransactionDirectTransferWrapped(ctx context.Context, req DirectTransferRequest) error {
	return m.directTransfer(ctx, req, true)
}

func (m *Messenger) directTransfer(ctx context.Context, req DirectTransferRequest, wrapped bool) (err error) {
	operation := "transaction_direct_transfer_native"
	if wrapped {
		operation = "transaction_direct_transfer_wrapped"
	}
	defer func() { observe(operation, err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.logger.With(zap.String("operation", operation), zap.Stringer("sender", req.Sender))

	var (
		storage *db.DataStorage
		signer  solana.PublicKey
		seeds   [][]byte
		nonce   uint32
		count   uint64
	)
	err = m.db.Update(func(txn *db.Txn) error {
		status, err := txn.TxnStatus(req.Status)
		if err != nil {
			return err
		}
		if status.Executed {
			return ErrTransactionAlreadyExecuted
		}

		if storage, err = storedMessage(txn, req.Sender); err != nil {
			return err
		}
		if !req.Mint.Equals(storage.TokenMint) {
			return fmt.Errorf("%w: got %s, stored %s", ErrMintKeyMismatch, req.Mint, storage.TokenMint)
		}
		if req.Sender != storage.Sender {
			return ErrPdaSenderMismatch
		}
		derived, err := m.deriver.Derive(req.Sender, storage.FromChainID)
		if err != nil {
			return err
		}
		if !req.PdaSigner.Equals(derived.Address) {
			return fmt.Errorf("%w: got %s, derived %s", ErrSenderDerivedKeyMismatch, req.PdaSigner, derived.Address)
		}
		signer = derived.Address
		seeds = derived.SignerSeeds(req.Sender, storage.FromChainID)

		cfg, err := m.config(txn)
		if err != nil {
			return err
		}
		if !cfg.Owner.Equals(req.Payer) {
			return ErrInvalidCaller
		}
		if cfg.Nonce == math.MaxUint32 {
			return ErrOverflow
		}
		nonce = cfg.Nonce

		c, err := txn.TxnCount()
		if err != nil {
			return err
		}
		count = c.Count

		status.Executed = true
		return txn.SetTxnStatus(req.Status, status)
	})
	if err != nil {
		return err
	}

	ixs, err := m.transferInstructions(req, storage, signer, nonce, wrapped)
	if err != nil {
		return err
	}
	for _, ix := range ixs {
		if err := m.invoke(ctx, ix, seeds); err != nil {
			logger.Error("direct transfer invocation failed", zap.Uint32("nonce", nonce), zap.Error(err))
			return err
		}
	}

	// The nonce only advances once the transfer is published. The status latch above stays set either way.
	err = m.db.Update(func(txn *db.Txn) error {
		cfg, err := m.config(txn)
		if err != nil {
			return err
		}
		cfg.Nonce = nonce + 1
		return txn.SetConfig(cfg)
	})
	if err != nil {
		return err
	}
	outboundNonce.Set(float64(nonce + 1))

	logger.Info("direct transfer",
		zap.Bool("wrapped", wrapped),
		zap.Stringer("mint", req.Mint),
		zap.Uint64("amount", storage.Amount),
		zap.Stringer("target_chain", req.TargetChain),
		zap.Uint32("nonce", nonce))
	m.events.Emit(DirectTransferred{
		Wrapped:      wrapped,
		Sender:       req.Sender,
		SenderChain:  storage.FromChainID,
		TargetChain:  req.TargetChain,
		Receiver:     storage.Receiver,
		Nonce:        nonce,
		CurrentCount: count,
	})
	return nil
}

// transferInstructions builds the approval of the portal's authority signer followed by the portal transfer.
func (m *Messenger) transferInstructions(req DirectTransferRequest, s *db.DataStorage, signer solana.PublicKey, nonce uint32, wrapped bool) ([]solana.Instruction, error) {
	accs, err := m.portal.DeriveAccounts(req.Mint)
	if err != nil {
		return nil, err
	}

	approve, err := portal.Approve(s.Amount, req.From, accs.AuthoritySigner, signer)
	if err != nil {
		return nil, err
	}

	data := portal.TransferData{
		Nonce:         nonce,
		Amount:        s.Amount,
		Fee:           req.Fee,
		TargetAddress: s.Receiver,
		TargetChain:   uint16(req.TargetChain),
	}

	var transfer solana.Instruction
	if wrapped {
		meta := req.WrappedMeta
		if meta.IsZero() {
			if meta, err = m.portal.DeriveWrappedMeta(req.Mint); err != nil {
				return nil, err
			}
		}
		transfer, err = m.portal.TransferWrapped(accs.Wrapped(req.Payer, req.From, signer, req.Mint, meta, req.PortalMessage), data)
	} else {
		transfer, err = m.portal.TransferNative(accs.Native(req.Payer, req.From, req.Mint, req.PortalMessage), data)
	}
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{approve, transfer}, nil
}
