package db

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

var (
	owner    = solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	mint     = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	sender   = vaa.Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x90, 0xfb, 0x16, 0x72, 0x08, 0xaf, 0x45, 0x5b, 0xb1, 0x37, 0x78, 0x01, 0x63, 0xb7, 0xb7, 0xa9, 0xa1, 0x0c, 0x16, 0x01}
	receiver = vaa.Address{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11, 0x22, 0x33, 0x02}
)

func testDB(t *testing.T) *Database {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDb(t *testing.T) {
	dir := t.TempDir()
	db := OpenDb(zap.NewNop(), &dir)
	require.NoError(t, db.Update(func(txn *Txn) error {
		return txn.SetConfig(&Config{Owner: owner, Nonce: 1})
	}))
	require.NoError(t, db.Close())

	db, err := Open(dir + "/db")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.View(func(txn *Txn) error {
		c, err := txn.Config()
		require.NoError(t, err)
		assert.Equal(t, owner, c.Owner)
		assert.Equal(t, uint32(1), c.Nonce)
		return nil
	}))
}

func TestMissingRecords(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.View(func(txn *Txn) error {
		_, err := txn.Config()
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = txn.Emitter(vaa.ChainIDEthereum)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = txn.DataStorage(sender)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = txn.Transaction(owner)
		assert.ErrorIs(t, err, ErrNotFound)

		count, err := txn.TxnCount()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), count.Count)

		status, err := txn.TxnStatus(owner)
		require.NoError(t, err)
		assert.False(t, status.Executed)
		return nil
	}))
}

func TestRecordsRoundTrip(t *testing.T) {
	db := testDB(t)

	storage := &DataStorage{
		Amount:      1000,
		StartTime:   10,
		EndTime:     20,
		CanUpdate:   true,
		CanCancel:   false,
		Sender:      sender,
		Receiver:    receiver,
		FromChainID: 2,
		TokenMint:   mint,
		DataAccount: owner,
	}
	tx := &Transaction{
		ProgramID: solana.TokenProgramID,
		Accounts: []TransactionAccount{
			{Pubkey: owner, IsSigner: true, IsWritable: false},
			{Pubkey: mint, IsSigner: false, IsWritable: true},
		},
		Data:        []byte{1, 2, 3, 4, 5, 6, 7, 8, 9},
		DidExecute:  true,
		Validated:   true,
		Sender:      sender,
		FromChainID: 2,
	}

	require.NoError(t, db.Update(func(txn *Txn) error {
		require.NoError(t, txn.SetDataStorage(sender, storage))
		require.NoError(t, txn.SetTransaction(owner, tx))
		require.NoError(t, txn.SetTxnStatus(owner, &TxnStatus{Executed: true}))
		require.NoError(t, txn.SetTxnCount(&TxnCount{Count: 41}))
		return nil
	}))

	require.NoError(t, db.View(func(txn *Txn) error {
		gotStorage, err := txn.DataStorage(sender)
		require.NoError(t, err)
		assert.Equal(t, storage, gotStorage)

		gotTx, err := txn.Transaction(owner)
		require.NoError(t, err)
		assert.Equal(t, tx, gotTx)

		status, err := txn.TxnStatus(owner)
		require.NoError(t, err)
		assert.True(t, status.Executed)

		count, err := txn.TxnCount()
		require.NoError(t, err)
		assert.Equal(t, uint64(41), count.Count)

		// Keyed by identity: the receiver has nothing stored.
		_, err = txn.DataStorage(receiver)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestEmittersOrderedByChain(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.Update(func(txn *Txn) error {
		for _, e := range []*Emitter{
			{ChainID: vaa.ChainIDBSC, EmitterAddr: "bb"},
			{ChainID: vaa.ChainIDEthereum, EmitterAddr: "aa"},
			{ChainID: vaa.ChainIDPolygon, EmitterAddr: "cc"},
		} {
			require.NoError(t, txn.SetEmitter(e))
		}
		// Re-registration overwrites.
		return txn.SetEmitter(&Emitter{ChainID: vaa.ChainIDEthereum, EmitterAddr: "dd"})
	}))

	require.NoError(t, db.View(func(txn *Txn) error {
		emitters, err := txn.Emitters()
		require.NoError(t, err)
		require.Len(t, emitters, 3)
		assert.Equal(t, vaa.ChainIDEthereum, emitters[0].ChainID)
		assert.Equal(t, "dd", emitters[0].EmitterAddr)
		assert.Equal(t, vaa.ChainIDBSC, emitters[1].ChainID)
		assert.Equal(t, vaa.ChainIDPolygon, emitters[2].ChainID)
		return nil
	}))
}

func TestUpdateIsAtomic(t *testing.T) {
	db := testDB(t)
	errAbort := errors.New("abort")

	err := db.Update(func(txn *Txn) error {
		require.NoError(t, txn.SetTxnCount(&TxnCount{Count: 1}))
		require.NoError(t, txn.SetDataStorage(sender, &DataStorage{Amount: 5}))
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	require.NoError(t, db.View(func(txn *Txn) error {
		count, err := txn.TxnCount()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), count.Count)
		_, err = txn.DataStorage(sender)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestDBError(t *testing.T) {
	err := &DBError{Op: OpRead, Key: []byte("MESSENGER:CONFIG:V1"), Err: ErrUnmarshal}
	assert.ErrorIs(t, err, ErrUnmarshal)
	assert.Equal(t, "messenger database: read key: MESSENGER:CONFIG:V1 error: db: unmarshal", err.Error())
}
