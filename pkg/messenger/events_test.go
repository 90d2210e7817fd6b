package messenger

import (
	"encoding/json"
	"testing"

	"github.com/certusone/wormhole/messenger/pkg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	_, a, cancelA := hub.Subscribe()
	_, b, cancelB := hub.Subscribe()
	assert.Equal(t, 2, hub.Subscribers())

	e := StoredMsg{MsgType: payload.OpDeposit, Sender: sender, TxnCount: 1}
	hub.Emit(e)
	assert.Equal(t, Event(e), <-a)
	assert.Equal(t, Event(e), <-b)

	cancelA()
	cancelA()
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-a
	assert.False(t, open)

	cancelB()
	assert.Zero(t, hub.Subscribers())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	_, ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Emit(StoredMsg{TxnCount: uint64(i)})
	}
	assert.Len(t, ch, subscriberBuffer)
	first := <-ch
	assert.Equal(t, uint64(0), first.(StoredMsg).TxnCount)
}

func TestSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	sink := Sinks(a, b)
	sink.Emit(Initialized{Owner: owner, Nonce: 1})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	NewLogSink(zap.New(core)).Emit(DirectTransferred{Wrapped: true, Sender: sender, Nonce: 4})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "event", entry.Message)
	assert.Equal(t, EventDirectTransferWrapped, entry.ContextMap()["name"])
}

func TestEventJSON(t *testing.T) {
	b, err := json.Marshal(Staged{Name: EventDeposited, Sender: sender, CurrentCount: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sender":"`+sender.String()+`","currentCount":2}`, string(b))
}
