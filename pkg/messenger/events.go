package messenger

import (
	"sync"

	"github.com/certusone/wormhole/messenger/pkg/payload"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

// Event is a notification for indexers. Events are emitted only after an operation succeeded and play no part
// in authorization.
type Event interface {
	EventName() string
}

const (
	EventInitialized             = "Initialized"
	EventRegisteredChain         = "RegisteredChain"
	EventStoredMsg               = "StoredMsg"
	EventDeposited               = "Deposited"
	EventStreamCreated           = "StreamCreated"
	EventStreamUpdated           = "StreamUpdated"
	EventPausedResumed           = "PausedResumed"
	EventReceiverWithdrawCreated = "ReceiverWithdrawCreated"
	EventCancelCreated           = "CancelCreated"
	EventSenderWithdrawCreated   = "SenderWithdrawCreated"
	EventInstantTransferCreated  = "InstantTransferCreated"
	EventDirectTransferNative    = "DirectTransferredNative"
	EventDirectTransferWrapped   = "DirectTransferredWrapped"
	EventExecutedTransaction     = "ExecutedTransaction"
)

type Initialized struct {
	Owner solana.PublicKey `json:"owner"`
	Nonce uint32           `json:"nonce"`
}

type RegisteredChain struct {
	ChainID     vaa.ChainID `json:"chainId"`
	EmitterAddr string      `json:"emitterAddr"`
}

type StoredMsg struct {
	MsgType payload.Opcode `json:"msgType"`
	Sender  vaa.Address    `json:"sender"`
	// Count is the correlation value the caller passed in.
	Count    uint8  `json:"count"`
	TxnCount uint64 `json:"txnCount"`
}

// Staged is emitted by the create and create-and-execute transaction operations. Name is one of the
// Event*Created, EventDeposited, EventStreamUpdated or EventPausedResumed constants.
type Staged struct {
	Name         string      `json:"-"`
	Sender       vaa.Address `json:"sender"`
	CurrentCount uint64      `json:"currentCount"`
}

type DirectTransferred struct {
	Wrapped      bool        `json:"-"`
	Sender       vaa.Address `json:"sender"`
	SenderChain  uint64      `json:"senderChain"`
	TargetChain  vaa.ChainID `json:"targetChain"`
	Receiver     vaa.Address `json:"receiver"`
	Nonce        uint32      `json:"nonce"`
	CurrentCount uint64      `json:"currentCount"`
}

type ExecutedTransaction struct {
	FromChainID vaa.ChainID      `json:"fromChainId"`
	Sender      vaa.Address      `json:"sender"`
	Transaction solana.PublicKey `json:"transaction"`
}

func (Initialized) EventName() string         { return EventInitialized }
func (RegisteredChain) EventName() string     { return EventRegisteredChain }
func (StoredMsg) EventName() string           { return EventStoredMsg }
func (e Staged) EventName() string            { return e.Name }
func (ExecutedTransaction) EventName() string { return EventExecutedTransaction }

func (e DirectTransferred) EventName() string {
	if e.Wrapped {
		return EventDirectTransferWrapped
	}
	return EventDirectTransferNative
}

// EventSink receives engine events. Emit must not block the engine.
type EventSink interface {
	Emit(Event)
}

type multiSink []EventSink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Sinks fans events out to every sink in order.
func Sinks(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

// LogSink writes every event to the log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(e Event) {
	s.logger.Info("event", zap.String("name", e.EventName()), zap.Any("data", e))
}

const subscriberBuffer = 64

// Hub broadcasts events to subscribers. A subscriber that falls behind by more than its buffer misses events;
// the engine is never held up by a slow reader.
type Hub struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]chan Event
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("hub"),
		subs:   make(map[uuid.UUID]chan Event),
	}
}

// Subscribe registers a subscriber. The returned cancel function must be called to release it.
func (h *Hub) Subscribe() (uuid.UUID, <-chan Event, func()) {
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return id, ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

func (h *Hub) Emit(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			eventsDropped.Inc()
			h.logger.Warn("subscriber is too slow, dropping event", zap.Stringer("subscription", id), zap.String("event", e.EventName()))
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
