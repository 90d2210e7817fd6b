package messenger

import (
	"context"
	"errors"
	"fmt"

	"github.com/certusone/wormhole/messenger/pkg/db"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// instructionDiscriminatorLength is the size of the Anchor discriminator that precedes the arguments of a
// staged instruction.
const instructionDiscriminatorLength = 8

// TransactionRequest stages an instruction for the identity Sender.
type TransactionRequest struct {
	// Transaction is the account the instruction is staged at.
	Transaction solana.PublicKey
	// Status is the execution status account of the logical action.
	Status    solana.PublicKey
	ProgramID solana.PublicKey
	Accounts  []TransactionAccount
	Data      []byte
	Sender    vaa.Address
}

// Instruction arguments of the staged stream program calls. Only the fields the engine checks are declared.
type (
	TokenAmount struct {
		Amount uint64
	}

	StreamArgs struct {
		StartTime uint64
		EndTime   uint64
		Amount    uint64
		CanCancel bool
		CanUpdate bool
	}

	StreamUpdateArgs struct {
		StartTime uint64
		EndTime   uint64
		Amount    uint64
	}
)

const none = -1

// operation describes where an operation expects the accounts it cross-checks and how it checks the
// instruction arguments. Positions index into the staged account list; none skips a check.
type operation struct {
	name        string
	event       string
	mint        int
	dataAccount int
	senderPDA   int
	receiverPDA int
	// callerIsReceiver is set when the caller is the stream's receiver rather than its sender.
	callerIsReceiver bool
	checkData        func(data []byte, s *db.DataStorage) error
	// execute invokes the staged instruction right away.
	execute bool
}

var (
	opDeposit = operation{
		name: "transaction_deposit", event: EventDeposited,
		mint: 6, dataAccount: none, senderPDA: 1, receiverPDA: none,
		checkData: checkTokenAmount,
		execute:   true,
	}
	opStream = operation{
		name: "create_transaction_stream", event: EventStreamCreated,
		mint: 9, dataAccount: none, senderPDA: 5, receiverPDA: 6,
		checkData: checkStream,
	}
	opStreamUpdate = operation{
		name: "transaction_stream_update", event: EventStreamUpdated,
		mint: 4, dataAccount: 0, senderPDA: 2, receiverPDA: 3,
		checkData: checkStreamUpdate,
		execute:   true,
	}
	opPauseResume = operation{
		name: "transaction_pause_resume", event: EventPausedResumed,
		mint: none, dataAccount: 2, senderPDA: 0, receiverPDA: 1,
		execute: true,
	}
	opReceiverWithdraw = operation{
		name: "create_transaction_receiver_withdraw", event: EventReceiverWithdrawCreated,
		mint: 12, dataAccount: 6, senderPDA: 2, receiverPDA: 1,
		callerIsReceiver: true,
	}
	opCancel = operation{
		name: "create_transaction_cancel", event: EventCancelCreated,
		mint: 12, dataAccount: 6, senderPDA: 2, receiverPDA: 1,
	}
	opSenderWithdraw = operation{
		name: "create_transaction_sender_withdraw", event: EventSenderWithdrawCreated,
		mint: 7, dataAccount: none, senderPDA: 2, receiverPDA: none,
		checkData: checkTokenAmount,
	}
	opInstantTransfer = operation{
		name: "create_transaction_instant_transfer", event: EventInstantTransferCreated,
		mint: 8, dataAccount: none, senderPDA: 2, receiverPDA: 1,
		checkData: checkTokenAmount,
	}
)

// TransactionDeposit stages and executes a deposit of the sender's tokens into its custody account.
func (m *Messenger) TransactionDeposit(ctx context.Context, req TransactionRequest) error {
	return m.stage(ctx, opDeposit, req)
}

// CreateTransactionStream stages the creation of a stream from the sender to the stored receiver.
func (m *Messenger) CreateTransactionStream(ctx context.Context, req TransactionRequest) error {
	return m.stage(ctx, opStream, req)
}

// TransactionStreamUpdate stages and executes an update of an existing stream.
func (m *Messenger) TransactionStreamUpdate(ctx context.Context, req TransactionRequest) error {
	return m.stage(ctx, opStreamUpdate, req)
}

// TransactionPauseResume stages and executes a pause or resume of a stream.
func (m *Messenger) TransactionPauseResume(ctx context.Context, req TransactionRequest) error {
	return m.stage(ctx, opPauseResume, req)
}

// CreateTransactionReceiverWithdraw stages a withdrawal of streamed tokens. The caller is the stream's
// receiver.
func (m *Messenger) CreateTransactionReceiverWithdraw(ctx context.Context, req TransactionRequest) error {
	return m.stage(ctx, opReceiverWithdraw, req)
}

// CreateTransactionCancel stages the cancellation of a stream.
func (m *Messenger) CreateTransactionCancel(ctx context.Context, req TransactionRequest) error {
	return m.stage(ctx, opCancel, req)
}

// CreateTransactionSenderWithdraw stages a withdrawal of the sender's unstreamed deposit.
func (m *Messenger) CreateTransactionSenderWithdraw(ctx context.Context, req TransactionRequest) error {
	return m.stage(ctx, opSenderWithdraw, req)
}

// CreateTransactionInstantTransfer stages an immediate payment from the sender's deposit to the receiver.
func (m *Messenger) CreateTransactionInstantTransfer(ctx context.Context, req TransactionRequest) error {
	return m.stage(ctx, opInstantTransfer, req)
}

// stage writes the staged transaction and then checks it against the sender's stored message.
//
// The transaction is persisted before the checks run, so a rejected request leaves its instruction behind
// with Validated cleared. ExecuteTransaction refuses it until a request that passes overwrites it. An
// executed transaction is never rewritten.
func (m *Messenger) stage(ctx context.Context, op operation, req TransactionRequest) (err error) {
	defer func() { observe(op.name, err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.logger.With(zap.String("operation", op.name), zap.Stringer("transaction", req.Transaction))

	var tx *db.Transaction
	err = m.db.Update(func(txn *db.Txn) error {
		status, err := txn.TxnStatus(req.Status)
		if err != nil {
			return err
		}
		if status.Executed {
			return ErrTransactionAlreadyCreated
		}

		existing, err := txn.Transaction(req.Transaction)
		if err == nil && existing.DidExecute {
			return ErrAlreadyExecuted
		}
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
		tx = &db.Transaction{ProgramID: req.ProgramID, Accounts: req.Accounts, Data: req.Data}
		return txn.SetTransaction(req.Transaction, tx)
	})
	if err != nil {
		return err
	}

	var (
		storage *db.DataStorage
		count   *db.TxnCount
	)
	err = m.db.View(func(txn *db.Txn) error {
		var err error
		if storage, err = storedMessage(txn, req.Sender); err != nil {
			return err
		}
		count, err = txn.TxnCount()
		return err
	})
	if err != nil {
		return err
	}

	if err := m.checkStaged(op, req, storage); err != nil {
		logger.Info("rejected staged transaction", zap.Error(err))
		return err
	}

	tx.Validated = true
	tx.Sender = req.Sender
	tx.FromChainID = storage.FromChainID
	tx.DidExecute = op.execute
	if err := m.db.Update(func(txn *db.Txn) error {
		return txn.SetTransaction(req.Transaction, tx)
	}); err != nil {
		return err
	}

	if op.execute {
		signer, err := m.deriver.Derive(tx.Sender, tx.FromChainID)
		if err != nil {
			return err
		}
		if err := m.invokeStaged(ctx, tx, signer.Address, signer.SignerSeeds(tx.Sender, tx.FromChainID)); err != nil {
			logger.Error("staged transaction invocation failed", zap.Error(err))
			return err
		}
	}

	logger.Info("staged transaction", zap.Stringer("sender", req.Sender), zap.Bool("executed", op.execute))
	m.events.Emit(Staged{Name: op.event, Sender: req.Sender, CurrentCount: count.Count})
	return nil
}

// checkStaged runs the account and argument checks of op in a fixed order so a request with several problems
// always reports the same one.
func (m *Messenger) checkStaged(op operation, req TransactionRequest, s *db.DataStorage) error {
	account := func(pos int) (solana.PublicKey, error) {
		if pos >= len(req.Accounts) {
			return solana.PublicKey{}, fmt.Errorf("%w: need account %d, got %d accounts", ErrMissingAccount, pos, len(req.Accounts))
		}
		return req.Accounts[pos].Pubkey, nil
	}

	if op.mint != none {
		mint, err := account(op.mint)
		if err != nil {
			return err
		}
		if !mint.Equals(s.TokenMint) {
			return fmt.Errorf("%w: got %s, stored %s", ErrMintKeyMismatch, mint, s.TokenMint)
		}
	}

	if op.dataAccount != none {
		dataAccount, err := account(op.dataAccount)
		if err != nil {
			return err
		}
		if !dataAccount.Equals(s.DataAccount) {
			return fmt.Errorf("%w: got %s, stored %s", ErrDataAccountMismatch, dataAccount, s.DataAccount)
		}
	}

	sender := req.Sender
	if op.callerIsReceiver {
		if req.Sender != s.Receiver {
			return ErrPdaReceiverMismatch
		}
		sender = s.Sender
	} else if req.Sender != s.Sender {
		return ErrPdaSenderMismatch
	}

	if err := m.checkDerived(account, op.senderPDA, sender, s.FromChainID, ErrSenderDerivedKeyMismatch); err != nil {
		return err
	}
	if err := m.checkDerived(account, op.receiverPDA, s.Receiver, s.FromChainID, ErrReceiverDerivedKeyMismatch); err != nil {
		return err
	}

	if op.checkData != nil {
		return op.checkData(req.Data, s)
	}
	return nil
}

func (m *Messenger) checkDerived(account func(int) (solana.PublicKey, error), pos int, identity vaa.Address, chainID uint64, mismatch *Error) error {
	if pos == none {
		return nil
	}
	got, err := account(pos)
	if err != nil {
		return err
	}
	derived, err := m.deriver.Derive(identity, chainID)
	if err != nil {
		return err
	}
	if !got.Equals(derived.Address) {
		return fmt.Errorf("%w: got %s, derived %s", mismatch, got, derived.Address)
	}
	return nil
}

// decodeArgs decodes the arguments of a staged instruction. The arguments must fill the data exactly.
func decodeArgs[T any](data []byte) (T, error) {
	var args T
	if len(data) < instructionDiscriminatorLength {
		return args, fmt.Errorf("%w: %d bytes", ErrInvalidInstructionData, len(data))
	}
	raw := data[instructionDiscriminatorLength:]
	if err := borsh.Deserialize(&args, raw); err != nil {
		return args, fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}
	b, err := borsh.Serialize(args)
	if err != nil || len(b) != len(raw) {
		return args, fmt.Errorf("%w: trailing bytes", ErrInvalidInstructionData)
	}
	return args, nil
}

func checkTokenAmount(data []byte, s *db.DataStorage) error {
	args, err := decodeArgs[TokenAmount](data)
	if err != nil {
		return err
	}
	if args.Amount != s.Amount {
		return fmt.Errorf("%w: got %d, stored %d", ErrAmountMismatch, args.Amount, s.Amount)
	}
	return nil
}

func checkStream(data []byte, s *db.DataStorage) error {
	args, err := decodeArgs[StreamArgs](data)
	if err != nil {
		return err
	}
	switch {
	case args.Amount != s.Amount:
		return fmt.Errorf("%w: got %d, stored %d", ErrAmountMismatch, args.Amount, s.Amount)
	case args.StartTime != s.StartTime:
		return fmt.Errorf("%w: got %d, stored %d", ErrStartTimeMismatch, args.StartTime, s.StartTime)
	case args.EndTime != s.EndTime:
		return fmt.Errorf("%w: got %d, stored %d", ErrEndTimeMismatch, args.EndTime, s.EndTime)
	case args.CanCancel != s.CanCancel:
		return ErrCanCancelMismatch
	case args.CanUpdate != s.CanUpdate:
		return ErrCanUpdateMismatch
	}
	return nil
}

func checkStreamUpdate(data []byte, s *db.DataStorage) error {
	args, err := decodeArgs[StreamUpdateArgs](data)
	if err != nil {
		return err
	}
	switch {
	case args.Amount != s.Amount:
		return fmt.Errorf("%w: got %d, stored %d", ErrAmountMismatch, args.Amount, s.Amount)
	case args.StartTime != s.StartTime:
		return fmt.Errorf("%w: got %d, stored %d", ErrStartTimeMismatch, args.StartTime, s.StartTime)
	case args.EndTime != s.EndTime:
		return fmt.Errorf("%w: got %d, stored %d", ErrEndTimeMismatch, args.EndTime, s.EndTime)
	}
	return nil
}
