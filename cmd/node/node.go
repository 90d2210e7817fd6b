package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certusone/wormhole/messenger/pkg/api"
	"github.com/certusone/wormhole/messenger/pkg/bridge"
	"github.com/certusone/wormhole/messenger/pkg/common"
	"github.com/certusone/wormhole/messenger/pkg/db"
	"github.com/certusone/wormhole/messenger/pkg/messenger"
	"github.com/certusone/wormhole/messenger/pkg/outbox"
	"github.com/certusone/wormhole/messenger/pkg/readiness"
	"github.com/certusone/wormhole/messenger/pkg/version"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/mux"
	ipfslog "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func init() {
	NodeCmd.Flags().String("env", "", "environment (devnet, testnet, mainnet)")
	NodeCmd.Flags().String("dataDir", "", "Data directory")
	NodeCmd.Flags().String("programID", "", "Messenger program id (optional, overrides default for environment)")
	NodeCmd.Flags().String("coreBridge", "", "Wormhole core bridge program id (optional, overrides default for environment)")
	NodeCmd.Flags().String("tokenBridge", "", "Wormhole token bridge program id (optional, overrides default for environment)")
	NodeCmd.Flags().String("solanaRPC", "", "Solana RPC URL used to read posted VAAs (optional, defaults to the public endpoint for environment)")
	NodeCmd.Flags().String("solanaCommitment", string(rpc.CommitmentFinalized), "Commitment level for posted VAA reads (processed, confirmed, finalized)")
	NodeCmd.Flags().String("apiAddr", "127.0.0.1:7080", "Listen address for the messenger API")
	NodeCmd.Flags().String("statusAddr", "[::]:6060", "Listen address for status server (disabled if blank)")
	NodeCmd.Flags().Float64("apiRateLimit", 50, "Maximum API requests per second (0 disables rate limiting)")
	NodeCmd.Flags().Int("apiBurst", 100, "API rate limiter burst size")
	NodeCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")

	if err := viper.BindPFlags(NodeCmd.Flags()); err != nil {
		panic(err)
	}
}

var NodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the messenger",
	Run:   runNode,
}

func runNode(cmd *cobra.Command, args []string) {
	envStr := viper.GetString("env")
	env, err := common.ParseEnvironment(envStr)
	if err != nil || env == common.GoTest {
		if envStr == "" {
			fmt.Println("Please specify --env")
		} else {
			fmt.Println("Invalid value for --env, should be devnet, testnet or mainnet", envStr)
		}
		os.Exit(1)
	}

	common.SetRestrictiveUmask()

	lvl, err := ipfslog.LevelFromString(viper.GetString("logLevel"))
	if err != nil {
		fmt.Println("Invalid log level")
		os.Exit(1)
	}

	logger := ipfslog.Logger("messengerd").Desugar()
	ipfslog.SetAllLoggers(lvl)

	logger.Info("starting messenger",
		zap.String("version", version.Version()),
		zap.String("env", string(env)),
	)

	programs, err := programAddresses(logger, env)
	if err != nil {
		logger.Fatal("invalid program id", zap.Error(err))
	}

	commitment := rpc.CommitmentType(viper.GetString("solanaCommitment"))
	switch commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		logger.Fatal("invalid --solanaCommitment", zap.String("commitment", string(commitment)))
	}

	solanaRPC := viper.GetString("solanaRPC")
	if solanaRPC == "" {
		solanaRPC = defaultSolanaRPC(env)
	}

	dataDir := viper.GetString("dataDir")
	if dataDir == "" {
		logger.Fatal("Please specify --dataDir")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer cancel()

	ready := readiness.NewRegistry(readiness.ComponentDatabase, readiness.ComponentEngine, readiness.ComponentAPI)

	var statusServer *http.Server
	if statusAddr := viper.GetString("statusAddr"); statusAddr != "" {
		statusServer = newStatusServer(statusAddr, ready)
		go func() {
			logger.Sugar().Infof("Status server listening on %s", statusAddr)
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Status server closed unexpectedly", zap.Error(err))
			}
		}()
	}

	database := db.OpenDb(logger, &dataDir)
	defer database.Close()
	ready.SetReady(readiness.ComponentDatabase)

	ob := outbox.NewStore(logger, database.Conn())
	hub := messenger.NewHub(logger)
	accounts := bridge.NewRPCAccountSource(logger, solanaRPC, programs.CoreBridge, commitment)

	m, err := messenger.New(logger, database, programs, accounts, ob, messenger.Sinks(messenger.NewLogSink(logger), hub))
	if err != nil {
		logger.Fatal("failed to create messenger", zap.Error(err))
	}
	ready.SetReady(readiness.ComponentEngine)

	apiAddr := viper.GetString("apiAddr")
	apiServer := api.NewHTTPServer(apiAddr, api.NewServer(logger, m, hub, ob, viper.GetFloat64("apiRateLimit"), viper.GetInt("apiBurst")))
	ln, err := net.Listen("tcp", apiAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", apiAddr), zap.Error(err))
	}
	go func() {
		logger.Sugar().Infof("API listening on %s", ln.Addr())
		if err := apiServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server closed unexpectedly", zap.Error(err))
		}
	}()
	ready.SetReady(readiness.ComponentAPI)

	<-ctx.Done()
	logger.Info("Received signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down API server", zap.Error(err))
	}
	if statusServer != nil {
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down status server", zap.Error(err))
		}
	}
}

func newStatusServer(addr string, ready *readiness.Registry) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/readyz", ready.Handler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// programAddresses returns the environment's program ids with any command line overrides applied.
func programAddresses(logger *zap.Logger, env common.Environment) (common.ProgramAddresses, error) {
	programs := common.GetProgramAddresses(env)
	overrides := []struct {
		flag string
		dst  *solana.PublicKey
	}{
		{"programID", &programs.Messenger},
		{"coreBridge", &programs.CoreBridge},
		{"tokenBridge", &programs.TokenBridge},
	}
	for _, o := range overrides {
		v := viper.GetString(o.flag)
		if v == "" {
			continue
		}
		k, err := solana.PublicKeyFromBase58(v)
		if err != nil {
			return programs, fmt.Errorf("--%s: %w", o.flag, err)
		}
		if env != common.UnsafeDevNet {
			logger.Warn("overriding default program id", zap.String("flag", o.flag), zap.Stringer("programID", k))
		}
		*o.dst = k
	}
	return programs, nil
}

func defaultSolanaRPC(env common.Environment) string {
	switch env {
	case common.MainNet:
		return rpc.MainNetBeta_RPC
	case common.TestNet:
		return rpc.DevNet_RPC
	default:
		return rpc.LocalNet_RPC
	}
}
