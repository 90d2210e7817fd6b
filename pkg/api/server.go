// Package api exposes the messenger engine over HTTP.
//
// Every engine operation is a JSON POST endpoint and every account is readable with a GET. Engine events are
// streamed to websocket clients from /v1/events, and a submitter drains the outbox through /v1/outbox.
// Requests that act for an owner or payer key must carry that key's signature in the X-Messenger-Signature
// header.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/certusone/wormhole/messenger/pkg/bridge"
	"github.com/certusone/wormhole/messenger/pkg/db"
	"github.com/certusone/wormhole/messenger/pkg/messenger"
	"github.com/certusone/wormhole/messenger/pkg/outbox"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxBodySize     = 1024 * 1024
	requestIDHeader = "X-Request-Id"
	defaultPageSize = 100
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_api_requests_total",
			Help: "Total number of API requests, by route and status code",
		}, []string{"route", "code"})
	requestsLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_api_requests_rate_limited_total",
			Help: "Total number of API requests rejected by the rate limiter",
		})
)

// Engine is the subset of the messenger the API serves.
type Engine interface {
	Initialize(ctx context.Context, owner solana.PublicKey) error
	RegisterChain(ctx context.Context, caller solana.PublicKey, chainID vaa.ChainID, emitterAddr string) error
	StoreMsg(ctx context.Context, req messenger.StoreMsgRequest) (*messenger.StoreMsgResult, error)

	TransactionDeposit(ctx context.Context, req messenger.TransactionRequest) error
	CreateTransactionStream(ctx context.Context, req messenger.TransactionRequest) error
	TransactionStreamUpdate(ctx context.Context, req messenger.TransactionRequest) error
	TransactionPauseResume(ctx context.Context, req messenger.TransactionRequest) error
	CreateTransactionReceiverWithdraw(ctx context.Context, req messenger.TransactionRequest) error
	CreateTransactionCancel(ctx context.Context, req messenger.TransactionRequest) error
	CreateTransactionSenderWithdraw(ctx context.Context, req messenger.TransactionRequest) error
	CreateTransactionInstantTransfer(ctx context.Context, req messenger.TransactionRequest) error
	ExecuteTransaction(ctx context.Context, req messenger.ExecuteRequest) error
	TransactionDirectTransferNative(ctx context.Context, req messenger.DirectTransferRequest) error
	TransactionDirectTransferWrapped(ctx context.Context, req messenger.DirectTransferRequest) error

	Config() (*db.Config, error)
	Emitters() ([]*db.Emitter, error)
	TxnCount() (uint64, error)
	DataStorage(identity vaa.Address) (*db.DataStorage, error)
	Transaction(account solana.PublicKey) (*db.Transaction, error)
	TxnStatus(account solana.PublicKey) (*db.TxnStatus, error)
}

type Server struct {
	logger  *zap.Logger
	engine  Engine
	hub     *messenger.Hub
	outbox  *outbox.Store
	limiter *rate.Limiter
}

// NewServer returns an API server. requestsPerSecond <= 0 disables rate limiting. outbox may be nil, which
// disables the outbox endpoints.
func NewServer(logger *zap.Logger, engine Engine, hub *messenger.Hub, ob *outbox.Store, requestsPerSecond float64, burst int) *Server {
	s := &Server{
		logger: logger.Named("api"),
		engine: engine,
		hub:    hub,
		outbox: ob,
	}
	if requestsPerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return s
}

// NewHTTPServer wraps the API in an http.Server listening on addr.
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.rateLimit)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods("GET")
	v1.HandleFunc("/initialize", s.handleInitialize).Methods("POST")
	v1.HandleFunc("/chains", s.handleRegisterChain).Methods("POST")
	v1.HandleFunc("/chains", s.handleEmitters).Methods("GET")
	v1.HandleFunc("/messages", s.handleStoreMsg).Methods("POST")
	v1.HandleFunc("/stage/{operation}", s.handleStage).Methods("POST")
	v1.HandleFunc("/execute", s.handleExecute).Methods("POST")
	v1.HandleFunc("/direct_transfer/{kind:native|wrapped}", s.handleDirectTransfer).Methods("POST")

	v1.HandleFunc("/config", s.handleConfig).Methods("GET")
	v1.HandleFunc("/txn_count", s.handleTxnCount).Methods("GET")
	v1.HandleFunc("/storage/{identity}", s.handleDataStorage).Methods("GET")
	v1.HandleFunc("/transactions/{account}", s.handleTransaction).Methods("GET")
	v1.HandleFunc("/status/{account}", s.handleTxnStatus).Methods("GET")

	v1.HandleFunc("/outbox", s.handleOutboxList).Methods("GET")
	v1.HandleFunc("/outbox/{seq:[0-9]+}", s.handleOutboxAck).Methods("DELETE")
	v1.HandleFunc("/events", s.handleEvents).Methods("GET")
	return r
}

type requestIDKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			requestsLimited.Inc()
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return s.logger.With(zap.String("request_id", id), zap.String("path", r.URL.Path))
}

type errorResponse struct {
	Code  uint32 `json:"code,omitempty"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

// statusCode maps an error to the status returned for it. Engine errors are the caller's fault; the state
// errors among them conflict with what already happened.
func statusCode(err error) int {
	switch {
	case errors.Is(err, messenger.ErrTransactionNotFound), errors.Is(err, messenger.ErrNoStoredMessage):
		return http.StatusNotFound
	}
	if e, ok := messenger.AsError(err); ok {
		if e.Code >= 6040 && e.Code < 6050 {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, outbox.ErrEntryNotFound), errors.Is(err, bridge.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	resp := errorResponse{Error: err.Error()}
	if e, ok := messenger.AsError(err); ok {
		resp.Code = e.Code
		resp.Name = e.Name
	}

	logger := s.requestLogger(r)
	if code == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", code), zap.Error(err))
	}
	s.writeJSON(w, r, code, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	requestsTotal.WithLabelValues(routeName(r), strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.requestLogger(r).Error("failed to encode response", zap.Error(err))
	}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unknown"
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathKey(r *http.Request, name string) (solana.PublicKey, error) {
	k, err := solana.PublicKeyFromBase58(mux.Vars(r)[name])
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return k, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
