package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"vouchernet/native/cashier"
	nativecommon "vouchernet/native/common"
	"vouchernet/native/gate"
	"vouchernet/native/tokens"
	"vouchernet/native/voucher"
	"vouchernet/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// pausableModules lists every module the owner can pause, in the order
// admin_pauseAll flips them.
var pausableModules = []string{"voucher", "cashier"}

// Server exposes the protocol engines over JSON-RPC. It owns no protocol
// state of its own; every call routes into the kernel, the cashier or the
// gate.
type Server struct {
	kernel  *voucher.Kernel
	cashier *cashier.Ledger
	gate    *gate.Gate
	tokens  *tokens.Ledger
	pauses  *nativecommon.PauseRegistry
	owner   [20]byte
	logger  *slog.Logger
}

func NewServer(kernel *voucher.Kernel, cash *cashier.Ledger, g *gate.Gate, tok *tokens.Ledger) *Server {
	return &Server{
		kernel:  kernel,
		cashier: cash,
		gate:    g,
		tokens:  tok,
		logger:  slog.Default(),
	}
}

// SetPauses configures the registry flipped by the admin pause methods.
func (s *Server) SetPauses(p *nativecommon.PauseRegistry) { s.pauses = p }

// SetOwner configures the account allowed to call admin methods.
func (s *Server) SetOwner(owner [20]byte) { s.owner = owner }

// SetLogger overrides the request logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start serves JSON-RPC on addr until the listener fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"voucher_createOffer": s.handleCreateOffer,
		"voucher_buy":         s.handleBuy,
		"voucher_buyGated":    s.handleBuyGated,
		"voucher_redeem":      s.handleRedeem,
		"voucher_refund":      s.handleRefund,
		"voucher_complain":    s.handleComplain,
		"voucher_cancelFault": s.handleCancelFault,
		"voucher_expire":      s.handleExpire,
		"voucher_finalize":    s.handleFinalize,
		"voucher_cancelSet":   s.handleCancelSet,
		"voucher_transfer":    s.handleTransferVoucher,
		"voucher_transferSet": s.handleTransferSet,
		"voucher_status":      s.handleStatus,
		"voucher_getPromise":  s.handleGetPromise,
		"voucher_getSupply":   s.handleGetSupply,

		"cashier_withdraw":         s.handleWithdraw,
		"cashier_escrowBalance":    s.handleEscrowBalance,
		"cashier_disasterWithdraw": s.handleDisasterWithdraw,

		"gate_allow": s.handleGateAllow,

		"admin_pause":                s.handlePause,
		"admin_pauseAll":             s.handlePauseAll,
		"admin_activateDisaster":     s.handleActivateDisaster,
		"admin_setComplainPeriod":    s.handleSetComplainPeriod,
		"admin_setCancelFaultPeriod": s.handleSetCancelFaultPeriod,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "unable to read request body", err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	handler, ok := s.handlers()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		observability.RPC().Observe(req.Method, codeMethodNotFound, time.Since(start))
		return
	}
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	handler(rec, r, &req)
	errCode := 0
	if rec.status >= 400 {
		errCode = rec.status
	}
	observability.RPC().Observe(req.Method, errCode, time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// decodeParams unmarshals the single parameter object every method expects.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}
