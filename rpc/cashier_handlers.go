package rpc

import (
	"net/http"
	"strings"

	"vouchernet/native/cashier"
	"vouchernet/native/voucher"
)

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params voucherIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.cashier.Withdraw(params.id()); err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type escrowBalanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
}

type escrowBalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
	Balance string `json:"balance"`
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(params.Asset))
	balance, err := s.cashier.EscrowBalance(asset, addr)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, escrowBalanceResult{
		Address: params.Address,
		Asset:   asset,
		Balance: balance.String(),
	})
}

type disasterWithdrawParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset,omitempty"`
}

func (s *Server) handleDisasterWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params disasterWithdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(params.Asset))
	if asset == cashier.NativeAsset {
		err = s.cashier.DisasterWithdraw(caller)
	} else {
		err = s.cashier.DisasterWithdrawToken(asset, caller)
	}
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type pauseParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) requireOwner(w http.ResponseWriter, req *RPCRequest, caller string) ([20]byte, bool) {
	addr, err := parseBech32Address(caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return [20]byte{}, false
	}
	if s.owner == ([20]byte{}) || addr != s.owner {
		respondEngineError(w, req, voucher.ErrNotOwner)
		return [20]byte{}, false
	}
	return addr, true
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pauseParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if _, ok := s.requireOwner(w, req, params.Caller); !ok {
		return
	}
	module := strings.TrimSpace(params.Module)
	known := false
	for _, m := range pausableModules {
		if m == module {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "unknown module")
		return
	}
	s.pauses.SetPaused(module, params.Paused)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type pauseAllParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (s *Server) handlePauseAll(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pauseAllParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if _, ok := s.requireOwner(w, req, params.Caller); !ok {
		return
	}
	s.pauses.PauseAll(pausableModules, params.Paused)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type callerParams struct {
	Caller string `json:"caller"`
}

func (s *Server) handleActivateDisaster(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.cashier.ActivateDisaster(caller); err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type periodParams struct {
	Caller  string `json:"caller"`
	Seconds int64  `json:"seconds"`
}

func (s *Server) handleSetComplainPeriod(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.setPeriod(w, req, s.kernel.SetComplainPeriod)
}

func (s *Server) handleSetCancelFaultPeriod(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.setPeriod(w, req, s.kernel.SetCancelFaultPeriod)
}

func (s *Server) setPeriod(w http.ResponseWriter, req *RPCRequest, set func(int64) error) {
	var params periodParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if _, ok := s.requireOwner(w, req, params.Caller); !ok {
		return
	}
	if err := set(params.Seconds); err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
