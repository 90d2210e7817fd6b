package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	rpcTimeout    = 10 * time.Second
	rpcMaxRetries = 5
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidOwner    = errors.New("account is not owned by the core bridge")

	accountFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "messenger_bridge_account_fetch_latency",
			Help: "Latency histogram for posted VAA account fetches",
		}, []string{"commitment"})
	accountFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_bridge_account_fetch_errors_total",
			Help: "Total number of posted VAA account fetch errors",
		}, []string{"reason"})
)

// AccountSource returns the raw data of a posted VAA account.
type AccountSource interface {
	PostedMessageAccount(ctx context.Context, key solana.PublicKey) ([]byte, error)
}

// RPCAccountSource reads posted VAA accounts from a Solana RPC node. Transient RPC errors are retried with
// exponential backoff; a missing account or an account with the wrong owner is not.
type RPCAccountSource struct {
	logger     *zap.Logger
	client     *rpc.Client
	coreBridge solana.PublicKey
	commitment rpc.CommitmentType
	maxRetries uint64
}

func NewRPCAccountSource(logger *zap.Logger, rpcURL string, coreBridge solana.PublicKey, commitment rpc.CommitmentType) *RPCAccountSource {
	return &RPCAccountSource{
		logger:     logger.Named("bridge_rpc"),
		client:     rpc.New(rpcURL),
		coreBridge: coreBridge,
		commitment: commitment,
		maxRetries: rpcMaxRetries,
	}
}

func (s *RPCAccountSource) PostedMessageAccount(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	var data []byte

	op := func() error {
		rCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		defer cancel()

		start := time.Now()
		info, err := s.client.GetAccountInfoWithOpts(rCtx, key, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: s.commitment,
		})
		accountFetchLatency.WithLabelValues(string(s.commitment)).Observe(time.Since(start).Seconds())

		if errors.Is(err, rpc.ErrNotFound) || (err == nil && (info == nil || info.Value == nil)) {
			accountFetchErrors.WithLabelValues("not_found").Inc()
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrAccountNotFound, key))
		}
		if err != nil {
			accountFetchErrors.WithLabelValues("rpc_error").Inc()
			s.logger.Warn("failed to request account, retrying",
				zap.Stringer("account", key),
				zap.String("commitment", string(s.commitment)),
				zap.Error(err))
			return err
		}

		if !info.Value.Owner.Equals(s.coreBridge) {
			accountFetchErrors.WithLabelValues("account_owner_mismatch").Inc()
			s.logger.Error("account has invalid owner",
				zap.Stringer("account", key),
				zap.Stringer("unexpected_owner", info.Value.Owner))
			return backoff.Permanent(fmt.Errorf("%w: %s owned by %s", ErrInvalidOwner, key, info.Value.Owner))
		}

		data = info.Value.Data.GetBinary()
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	s.logger.Debug("fetched posted vaa account", zap.Stringer("account", key), zap.Int("len", len(data)))
	return data, nil
}
