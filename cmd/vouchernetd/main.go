package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"vouchernet/config"
	"vouchernet/core/events"
	"vouchernet/core/state"
	"vouchernet/core/types"
	"vouchernet/gateway"
	"vouchernet/native/bank"
	"vouchernet/native/cashier"
	nativecommon "vouchernet/native/common"
	"vouchernet/native/gate"
	"vouchernet/native/tokens"
	"vouchernet/native/voucher"
	"vouchernet/observability"
	"vouchernet/observability/logging"
	"vouchernet/rpc"
	"vouchernet/storage"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// vaultAccount holds pooled escrow funds. Deposits move here on commit and
// leave only through the cashier's distribution paths.
var vaultAccount = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("vouchernet/escrow-vault"))[:20])
	return addr
}()

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("vouchernetd", cfg.NetworkName)

	owner, err := cfg.OwnerAddress()
	if err != nil {
		logger.Error("Failed to decode owner address", slog.Any("error", err))
		os.Exit(1)
	}
	if owner == ([20]byte{}) {
		logger.Warn("No owner configured; admin RPC methods are disabled")
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)

	tokenLedger := tokens.NewLedger()
	tokenLedger.SetState(manager)

	mover := bank.NewMover()
	mover.SetState(manager)
	mover.SetVault(vaultAccount)

	supplyGate := gate.NewGate()
	supplyGate.SetState(manager)

	pauses := nativecommon.NewPauseRegistry()
	emitter := newLoggingEmitter(logger)

	kernel := voucher.NewKernel()
	kernel.SetState(manager)
	kernel.SetTokenLedger(tokenLedger)
	kernel.SetPauses(pauses)
	kernel.SetEmitter(emitter)

	var salt [32]byte
	copy(salt[:], ethcrypto.Keccak256([]byte(cfg.NetworkName)))
	kernel.SetRegistrySalt(salt)

	if cfg.ComplainPeriodSeconds > 0 {
		if err := kernel.SetComplainPeriod(cfg.ComplainPeriodSeconds); err != nil {
			panic(fmt.Sprintf("Failed to apply complaint period: %v", err))
		}
	}
	if cfg.CancelFaultPeriodSeconds > 0 {
		if err := kernel.SetCancelFaultPeriod(cfg.CancelFaultPeriodSeconds); err != nil {
			panic(fmt.Sprintf("Failed to apply cancel period: %v", err))
		}
	}

	ledger := cashier.NewLedger()
	ledger.SetState(manager)
	ledger.SetKernel(kernel)
	ledger.SetAssetMover(mover)
	ledger.SetPool(owner)
	ledger.SetVault(vaultAccount)
	ledger.SetPauses(pauses)
	ledger.SetEmitter(emitter)

	rpcServer := rpc.NewServer(kernel, ledger, supplyGate, tokenLedger)
	rpcServer.SetPauses(pauses)
	rpcServer.SetOwner(owner)
	rpcServer.SetLogger(logger)

	gatewayServer := gateway.NewServer(kernel, ledger, manager)
	gatewayServer.SetLogger(logger)

	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Start(cfg.RPCAddress)
		close(rpcErrCh)
	}()
	if err := waitForStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		if err, ok := <-rpcErrCh; ok && err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
		}
	}()

	go func() {
		if err := gatewayServer.Start(cfg.GatewayAddress); err != nil {
			logger.Error("Gateway terminated", slog.Any("error", err))
		}
	}()

	logger.Info("Voucher node initialised and running",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("gateway", cfg.GatewayAddress))
	select {}
}

// loggingEmitter fans engine events out to the structured log and the
// lifecycle metrics.
type loggingEmitter struct {
	logger *slog.Logger
}

func newLoggingEmitter(logger *slog.Logger) *loggingEmitter {
	return &loggingEmitter{logger: logger}
}

func (e *loggingEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	eventType := evt.EventType()
	if strings.HasPrefix(eventType, "cashier.") {
		observability.Lifecycle().RecordWithdrawal(eventType)
	} else {
		observability.Lifecycle().RecordTransition(eventType)
	}

	args := []any{slog.String("event", eventType)}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				args = append(args, slog.String(key, value))
			}
		}
	}
	e.logger.Info("protocol event", args...)
}

func waitForStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok || err == nil {
				return fmt.Errorf("RPC server exited before startup confirmation")
			}
			return err
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server on %s", addr)
		case <-ticker.C:
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
