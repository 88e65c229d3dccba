package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"vouchernet/crypto"
	nativecommon "vouchernet/native/common"
	"vouchernet/native/voucher"
)

const (
	codeValidation    = -32021
	codeUnauthorized  = -32022
	codeConflict      = -32023
	codeWindowExpired = -32024
	codeInvariant     = -32025
	codePaused        = -32026
)

// respondEngineError translates an engine error into the JSON-RPC error code
// for its kind. Unknown errors map to a generic server error so engine
// internals never leak a 200.
func respondEngineError(w http.ResponseWriter, req *RPCRequest, err error) {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, req.ID, codePaused, "module paused", err.Error())
	case errors.Is(err, voucher.ErrValidation):
		writeError(w, http.StatusBadRequest, req.ID, codeValidation, "validation failed", err.Error())
	case errors.Is(err, voucher.ErrAuthorization):
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, voucher.ErrStateConflict):
		writeError(w, http.StatusConflict, req.ID, codeConflict, "state conflict", err.Error())
	case errors.Is(err, voucher.ErrWindowExpired):
		writeError(w, http.StatusConflict, req.ID, codeWindowExpired, "window expired", err.Error())
	case errors.Is(err, voucher.ErrInvariant):
		writeError(w, http.StatusInternalServerError, req.ID, codeInvariant, "invariant violation", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal error", err.Error())
	}
}

func parseBech32Address(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

func formatAddress(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.VoucherPrefix, addr).String()
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	if amount.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	return amount, nil
}
