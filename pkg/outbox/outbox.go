// Package outbox records the signed invocations the messenger authorizes.
//
// The messenger does not hold the keys to submit transactions itself. Every instruction it would invoke under a
// derived signer is appended to the outbox together with its signer seeds; a submitter drains the outbox,
// lands the instructions on chain and acknowledges them.
package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/near/borsh-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	entryPrefix = "MESSENGER:OUTBOX:V1:"
	seqKey      = "MESSENGER:OUTBOX_SEQ:V1"
)

var (
	ErrEntryNotFound = errors.New("outbox entry not found")

	outboxAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_outbox_appended_total",
			Help: "Total number of invocations appended to the outbox",
		}, []string{"program"})
	outboxAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_outbox_acked_total",
			Help: "Total number of outbox entries acknowledged by a submitter",
		})
)

type Account struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Entry is one instruction to be invoked with the given signer seeds.
type Entry struct {
	Seq         uint64
	ID          uuid.UUID
	ProgramID   solana.PublicKey
	Accounts    []Account
	Data        []byte
	SignerSeeds [][]byte
	// CreatedAt is a unix timestamp in milliseconds.
	CreatedAt int64
}

// Instruction rebuilds the solana instruction of the entry.
func (e *Entry) Instruction() solana.Instruction {
	metas := make(solana.AccountMetaSlice, 0, len(e.Accounts))
	for _, a := range e.Accounts {
		metas = append(metas, solana.NewAccountMeta(a.Pubkey, a.IsWritable, a.IsSigner))
	}
	return solana.NewInstruction(e.ProgramID, metas, e.Data)
}

type Store struct {
	logger *zap.Logger
	db     *badger.DB
}

func NewStore(logger *zap.Logger, dbConn *badger.DB) *Store {
	return &Store{
		logger: logger.Named("outbox"),
		db:     dbConn,
	}
}

func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", entryPrefix, seq))
}

// InvokeSigned appends ix to the outbox.
func (s *Store) InvokeSigned(ctx context.Context, ix solana.Instruction, signerSeeds [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := ix.Data()
	if err != nil {
		return fmt.Errorf("failed to encode instruction data: %w", err)
	}

	e := &Entry{
		ID:          uuid.New(),
		ProgramID:   ix.ProgramID(),
		Data:        data,
		SignerSeeds: signerSeeds,
		CreatedAt:   time.Now().UnixMilli(),
	}
	for _, a := range ix.Accounts() {
		e.Accounts = append(e.Accounts, Account{Pubkey: a.PublicKey, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		var seq uint64
		item, err := txn.Get([]byte(seqKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				seq = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		}

		seq++
		e.Seq = seq
		b, err := borsh.Serialize(*e)
		if err != nil {
			return err
		}
		if err := txn.Set(entryKey(seq), b); err != nil {
			return err
		}
		return txn.Set([]byte(seqKey), binary.BigEndian.AppendUint64(nil, seq))
	})
	if err != nil {
		return fmt.Errorf("failed to append to outbox: %w", err)
	}

	outboxAppended.WithLabelValues(e.ProgramID.String()).Inc()
	s.logger.Info("appended invocation",
		zap.Uint64("seq", e.Seq),
		zap.Stringer("id", e.ID),
		zap.Stringer("program", e.ProgramID),
		zap.Int("accounts", len(e.Accounts)))
	return nil
}

// List returns up to limit entries with a sequence greater than after, oldest first.
func (s *Store) List(after uint64, limit int) ([]*Entry, error) {
	entries := make([]*Entry, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(entryPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(entryKey(after + 1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			b, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e := &Entry{}
			if err := borsh.Deserialize(e, b); err != nil {
				return fmt.Errorf("failed to unmarshal outbox entry %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Ack removes an entry once it has landed.
func (s *Store) Ack(seq uint64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(seq)); err != nil {
			return err
		}
		return txn.Delete(entryKey(seq))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %d", ErrEntryNotFound, seq)
	}
	if err != nil {
		return fmt.Errorf("failed to ack outbox entry %d: %w", seq, err)
	}

	outboxAcked.Inc()
	s.logger.Debug("acked invocation", zap.Uint64("seq", seq))
	return nil
}
