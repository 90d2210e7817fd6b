package db

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Define prefixes used to isolate the account types stored in the database.
const (
	configKey      = "MESSENGER:CONFIG:V1"
	txnCountKey    = "MESSENGER:TXNCOUNT:V1"
	emitterPrefix  = "MESSENGER:EMITTER:V1:"
	dataPrefix     = "MESSENGER:DATA:V1:"
	txPrefix       = "MESSENGER:TX:V1:"
	txStatusPrefix = "MESSENGER:STATUS:V1:"
)

// Config is the messenger's singleton configuration account.
type Config struct {
	Owner solana.PublicKey
	// Nonce tags outbound portal transfers. The portal carries it as a u32.
	Nonce uint32
}

// Emitter is the single trusted emitter of a remote chain.
type Emitter struct {
	ChainID vaa.ChainID
	// EmitterAddr is the hex encoding of the 32 byte emitter address, without 0x.
	EmitterAddr string
}

// TxnCount counts accepted inbound messages.
type TxnCount struct {
	Count uint64
}

// DataStorage holds the fields of the latest message stored for an identity. Handlers overwrite only the
// fields their opcode carries.
type DataStorage struct {
	Amount      uint64
	StartTime   uint64
	EndTime     uint64
	CanUpdate   bool
	CanCancel   bool
	Sender      vaa.Address
	Receiver    vaa.Address
	FromChainID uint64
	TokenMint   solana.PublicKey
	DataAccount solana.PublicKey
}

type TransactionAccount struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Transaction is a staged instruction waiting to be executed under the sender's derived signer.
type Transaction struct {
	ProgramID  solana.PublicKey
	Accounts   []TransactionAccount
	Data       []byte
	DidExecute bool
	// Validated is set once the instruction passed the checks of its create operation. Sender and FromChainID
	// are the identity it was checked for and the only one it may be executed under.
	Validated   bool
	Sender      vaa.Address
	FromChainID uint64
}

// TxnStatus guards one logical action against being built or executed twice.
type TxnStatus struct {
	Executed bool
}

func (c *Config) MarshalBinary() ([]byte, error) { return borsh.Serialize(*c) }
func (c *Config) UnmarshalBinary(b []byte) error { return borsh.Deserialize(c, b) }
func (e *Emitter) MarshalBinary() ([]byte, error) { return borsh.Serialize(*e) }
func (e *Emitter) UnmarshalBinary(b []byte) error { return borsh.Deserialize(e, b) }
func (c *TxnCount) MarshalBinary() ([]byte, error) { return borsh.Serialize(*c) }
func (c *TxnCount) UnmarshalBinary(b []byte) error { return borsh.Deserialize(c, b) }
func (s *DataStorage) MarshalBinary() ([]byte, error) { return borsh.Serialize(*s) }
func (s *DataStorage) UnmarshalBinary(b []byte) error { return borsh.Deserialize(s, b) }
func (tx *Transaction) MarshalBinary() ([]byte, error) { return borsh.Serialize(*tx) }
func (tx *Transaction) UnmarshalBinary(b []byte) error { return borsh.Deserialize(tx, b) }
func (s *TxnStatus) MarshalBinary() ([]byte, error) { return borsh.Serialize(*s) }
func (s *TxnStatus) UnmarshalBinary(b []byte) error { return borsh.Deserialize(s, b) }

func emitterKey(chainID vaa.ChainID) []byte {
	return []byte(fmt.Sprintf("%s%05d", emitterPrefix, uint16(chainID)))
}

func dataKey(identity vaa.Address) []byte {
	return []byte(dataPrefix + identity.String())
}

func txKey(account solana.PublicKey) []byte {
	return []byte(txPrefix + account.String())
}

func txStatusKey(account solana.PublicKey) []byte {
	return []byte(txStatusPrefix + account.String())
}

func (t *Txn) Config() (*Config, error) {
	c := &Config{}
	if err := t.get([]byte(configKey), c); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Txn) SetConfig(c *Config) error {
	return t.set([]byte(configKey), c)
}

func (t *Txn) Emitter(chainID vaa.ChainID) (*Emitter, error) {
	e := &Emitter{}
	if err := t.get(emitterKey(chainID), e); err != nil {
		return nil, err
	}
	return e, nil
}

func (t *Txn) SetEmitter(e *Emitter) error {
	return t.set(emitterKey(e.ChainID), e)
}

// Emitters returns every registered emitter ordered by chain id.
func (t *Txn) Emitters() ([]*Emitter, error) {
	prefix := []byte(emitterPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	emitters := make([]*Emitter, 0)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		b, err := item.ValueCopy(nil)
		if err != nil {
			return nil, &DBError{Op: OpRead, Key: item.KeyCopy(nil), Err: err}
		}
		e := &Emitter{}
		if err := e.UnmarshalBinary(b); err != nil {
			return nil, &DBError{Op: OpRead, Key: item.KeyCopy(nil), Err: fmt.Errorf("%w: %v", ErrUnmarshal, err)}
		}
		emitters = append(emitters, e)
	}
	return emitters, nil
}

// TxnCount returns the counter. A counter that was never written reads as zero.
func (t *Txn) TxnCount() (*TxnCount, error) {
	c := &TxnCount{}
	if err := t.get([]byte(txnCountKey), c); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return c, nil
}

func (t *Txn) SetTxnCount(c *TxnCount) error {
	return t.set([]byte(txnCountKey), c)
}

func (t *Txn) DataStorage(identity vaa.Address) (*DataStorage, error) {
	s := &DataStorage{}
	if err := t.get(dataKey(identity), s); err != nil {
		return nil, err
	}
	return s, nil
}

func (t *Txn) SetDataStorage(identity vaa.Address, s *DataStorage) error {
	return t.set(dataKey(identity), s)
}

func (t *Txn) Transaction(account solana.PublicKey) (*Transaction, error) {
	tx := &Transaction{}
	if err := t.get(txKey(account), tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (t *Txn) SetTransaction(account solana.PublicKey, tx *Transaction) error {
	return t.set(txKey(account), tx)
}

// TxnStatus returns the status record. A status that was never written reads as not executed.
func (t *Txn) TxnStatus(account solana.PublicKey) (*TxnStatus, error) {
	s := &TxnStatus{}
	if err := t.get(txStatusKey(account), s); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s, nil
}

func (t *Txn) SetTxnStatus(account solana.PublicKey, s *TxnStatus) error {
	return t.set(txStatusKey(account), s)
}
