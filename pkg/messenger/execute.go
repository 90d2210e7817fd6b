package messenger

import (
	"context"
	"errors"
	"fmt"

	"github.com/certusone/wormhole/messenger/pkg/db"
	"github.com/gagliardetto/solana-go"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

type ExecuteRequest struct {
	Transaction solana.PublicKey
	Status      solana.PublicKey
	// Sender and FromChainID must name the identity the transaction was staged for. Its derived address signs
	// the instruction.
	Sender      vaa.Address
	FromChainID vaa.ChainID
}

// ExecuteTransaction invokes a staged transaction under the signer derived from the identity recorded when it
// passed its create checks. Transactions that never passed are refused.
//
// Both the status latch and the transaction's DidExecute latch are persisted before the invocation and are
// kept if it fails, so a failed execution cannot be retried.
func (m *Messenger) ExecuteTransaction(ctx context.Context, req ExecuteRequest) (err error) {
	defer func() { observe("execute_transaction", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	var tx *db.Transaction
	err = m.db.Update(func(txn *db.Txn) error {
		status, err := txn.TxnStatus(req.Status)
		if err != nil {
			return err
		}
		if status.Executed {
			return ErrTransactionAlreadyExecuted
		}

		tx, err = txn.Transaction(req.Transaction)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, req.Transaction)
		}
		if err != nil {
			return err
		}
		if tx.DidExecute {
			return ErrAlreadyExecuted
		}
		if !tx.Validated {
			return ErrTransactionNotValidated
		}
		if tx.Sender != req.Sender {
			return ErrPdaSenderMismatch
		}
		if tx.FromChainID != uint64(req.FromChainID) {
			return ErrSenderDerivedKeyMismatch
		}

		status.Executed = true
		tx.DidExecute = true
		if err := txn.SetTxnStatus(req.Status, status); err != nil {
			return err
		}
		return txn.SetTransaction(req.Transaction, tx)
	})
	if err != nil {
		return err
	}

	signer, err := m.deriver.Derive(tx.Sender, tx.FromChainID)
	if err != nil {
		return err
	}
	if err := m.invokeStaged(ctx, tx, signer.Address, signer.SignerSeeds(tx.Sender, tx.FromChainID)); err != nil {
		m.logger.Error("transaction invocation failed",
			zap.Stringer("transaction", req.Transaction),
			zap.Stringer("sender", req.Sender),
			zap.Error(err))
		return err
	}

	m.logger.Info("executed transaction",
		zap.Stringer("transaction", req.Transaction),
		zap.Stringer("program", tx.ProgramID),
		zap.Stringer("sender", req.Sender),
		zap.Stringer("from_chain", req.FromChainID))
	m.events.Emit(ExecutedTransaction{FromChainID: req.FromChainID, Sender: req.Sender, Transaction: req.Transaction})
	return nil
}

// invokeStaged invokes tx with every occurrence of signer marked as a signer.
func (m *Messenger) invokeStaged(ctx context.Context, tx *db.Transaction, signer solana.PublicKey, seeds [][]byte) error {
	metas := make(solana.AccountMetaSlice, 0, len(tx.Accounts))
	for _, a := range tx.Accounts {
		metas = append(metas, solana.NewAccountMeta(a.Pubkey, a.IsWritable, a.IsSigner || a.Pubkey.Equals(signer)))
	}
	return m.invoke(ctx, solana.NewInstruction(tx.ProgramID, metas, tx.Data), seeds)
}

func (m *Messenger) invoke(ctx context.Context, ix solana.Instruction, seeds [][]byte) error {
	if err := m.invoker.InvokeSigned(ctx, ix, seeds); err != nil {
		invocationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidCPI, err)
	}
	invocationsTotal.WithLabelValues("ok").Inc()
	return nil
}
