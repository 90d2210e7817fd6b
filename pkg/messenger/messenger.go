// Package messenger is the engine that turns Wormhole messages into authorized token operations.
//
// An inbound message is first stored (StoreMsg): its posted VAA account is bound to the message hash, its
// emitter is checked against the registry and its payload is decoded into the DataStorage of the identity that
// sent it. A caller then stages the local instruction that carries the operation out (the Create* and
// Transaction* operations). Every account and argument of the staged instruction that matters is checked
// against the stored message and against the addresses derived from the cross-chain identities. Only then is
// the instruction invoked, signed by the sender's derived address, and only ever once.
//
// SECURITY: All state transitions happen under a single lock. Every check of an operation runs against one
// consistent view of the accounts and the only call that leaves the engine while the lock is held is the
// Invoker.
package messenger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/certusone/wormhole/messenger/pkg/bridge"
	"github.com/certusone/wormhole/messenger/pkg/common"
	"github.com/certusone/wormhole/messenger/pkg/db"
	"github.com/certusone/wormhole/messenger/pkg/pda"
	"github.com/certusone/wormhole/messenger/pkg/portal"
	"github.com/gagliardetto/solana-go"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

const emitterAddressLength = 64

type TransactionAccount = db.TransactionAccount

// Invoker carries out an instruction signed by a program-derived address. signerSeeds are the seeds, bump
// included, of that address.
type Invoker interface {
	InvokeSigned(ctx context.Context, ix solana.Instruction, signerSeeds [][]byte) error
}

type Messenger struct {
	logger   *zap.Logger
	db       *db.Database
	programs common.ProgramAddresses
	deriver  *pda.Deriver
	portal   *portal.Portal
	accounts bridge.AccountSource
	invoker  Invoker
	events   EventSink

	mu sync.Mutex
}

func New(
	logger *zap.Logger,
	database *db.Database,
	programs common.ProgramAddresses,
	accounts bridge.AccountSource,
	invoker Invoker,
	events EventSink,
) (*Messenger, error) {
	deriver, err := pda.NewDeriver(programs.Messenger, pda.DefaultCacheSize)
	if err != nil {
		return nil, err
	}

	if events == nil {
		events = Sinks()
	}

	return &Messenger{
		logger:   logger.Named("messenger"),
		db:       database,
		programs: programs,
		deriver:  deriver,
		portal:   portal.New(programs.TokenBridge, programs.CoreBridge),
		accounts: accounts,
		invoker:  invoker,
		events:   events,
	}, nil
}

// Programs returns the program ids the engine was configured with.
func (m *Messenger) Programs() common.ProgramAddresses {
	return m.programs
}

// Portal returns the token bridge deployment the engine transfers through.
func (m *Messenger) Portal() *portal.Portal {
	return m.portal
}

// DeriveAddress returns the address and bump the engine derives for identity on chainID.
func (m *Messenger) DeriveAddress(identity vaa.Address, chainID uint64) (pda.Derived, error) {
	return m.deriver.Derive(identity, chainID)
}

// Initialize creates the configuration with owner as the administrative owner and the outbound nonce at 1.
func (m *Messenger) Initialize(ctx context.Context, owner solana.PublicKey) (err error) {
	defer func() { observe("initialize", err) }()
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := &db.Config{Owner: owner, Nonce: 1}
	err = m.db.Update(func(txn *db.Txn) error {
		_, err := txn.Config()
		if err == nil {
			return ErrAlreadyInitialized
		}
		if !errors.Is(err, db.ErrNotFound) {
			return err
		}
		return txn.SetConfig(cfg)
	})
	if err != nil {
		return err
	}

	outboundNonce.Set(float64(cfg.Nonce))
	m.logger.Info("initialized", zap.Stringer("owner", owner))
	m.events.Emit(Initialized{Owner: owner, Nonce: cfg.Nonce})
	return nil
}

// RegisterChain trusts emitterAddr, a hex encoded 32 byte address, as the only emitter of chainID.
// Registering a chain again replaces its emitter.
func (m *Messenger) RegisterChain(ctx context.Context, caller solana.PublicKey, chainID vaa.ChainID, emitterAddr string) (err error) {
	defer func() { observe("register_chain", err) }()

	if len(emitterAddr) != emitterAddressLength {
		return fmt.Errorf("%w: got %d characters", ErrInvalidEmitterAddress, len(emitterAddr))
	}
	if _, err := hex.DecodeString(emitterAddr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEmitterAddress, err)
	}
	emitterAddr = strings.ToLower(emitterAddr)

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.db.Update(func(txn *db.Txn) error {
		cfg, err := m.config(txn)
		if err != nil {
			return err
		}
		if !cfg.Owner.Equals(caller) {
			return ErrInvalidCaller
		}
		return txn.SetEmitter(&db.Emitter{ChainID: chainID, EmitterAddr: emitterAddr})
	})
	if err != nil {
		return err
	}

	m.logger.Info("registered chain", zap.Stringer("chain", chainID), zap.String("emitter", emitterAddr))
	m.events.Emit(RegisteredChain{ChainID: chainID, EmitterAddr: emitterAddr})
	return nil
}

func (m *Messenger) config(txn *db.Txn) (*db.Config, error) {
	cfg, err := txn.Config()
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return cfg, err
}

// dataStorage returns the stored message of identity, or an empty record for an identity that never stored
// one.
func dataStorage(txn *db.Txn, identity vaa.Address) (*db.DataStorage, error) {
	s, err := txn.DataStorage(identity)
	if errors.Is(err, db.ErrNotFound) {
		return &db.DataStorage{}, nil
	}
	return s, err
}

// storedMessage returns the stored message of identity. Operations that act on a stored message fail if there
// is none.
func storedMessage(txn *db.Txn, identity vaa.Address) (*db.DataStorage, error) {
	s, err := txn.DataStorage(identity)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoStoredMessage, identity)
	}
	return s, err
}

// Config returns the current configuration.
func (m *Messenger) Config() (cfg *db.Config, err error) {
	err = m.db.View(func(txn *db.Txn) error {
		cfg, err = m.config(txn)
		return err
	})
	return
}

// Emitters returns the emitter registry.
func (m *Messenger) Emitters() (emitters []*db.Emitter, err error) {
	err = m.db.View(func(txn *db.Txn) error {
		emitters, err = txn.Emitters()
		return err
	})
	return
}

// TxnCount returns the number of accepted inbound messages.
func (m *Messenger) TxnCount() (count uint64, err error) {
	err = m.db.View(func(txn *db.Txn) error {
		c, err := txn.TxnCount()
		if err != nil {
			return err
		}
		count = c.Count
		return nil
	})
	return
}

// DataStorage returns the message stored for identity.
func (m *Messenger) DataStorage(identity vaa.Address) (s *db.DataStorage, err error) {
	err = m.db.View(func(txn *db.Txn) error {
		s, err = txn.DataStorage(identity)
		return err
	})
	return
}

// Transaction returns the transaction staged at account.
func (m *Messenger) Transaction(account solana.PublicKey) (tx *db.Transaction, err error) {
	err = m.db.View(func(txn *db.Txn) error {
		tx, err = txn.Transaction(account)
		return err
	})
	return
}

// TxnStatus returns the execution status at account.
func (m *Messenger) TxnStatus(account solana.PublicKey) (s *db.TxnStatus, err error) {
	err = m.db.View(func(txn *db.Txn) error {
		s, err = txn.TxnStatus(account)
		return err
	})
	return
}
