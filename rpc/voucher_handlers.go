package rpc

import (
	"encoding/hex"
	"net/http"
	"strings"

	"vouchernet/native/voucher"
)

type createOfferParams struct {
	Seller        string `json:"seller"`
	ValidFrom     int64  `json:"validFrom"`
	ValidTo       int64  `json:"validTo"`
	Price         string `json:"price"`
	DepositSeller string `json:"depositSeller"`
	DepositBuyer  string `json:"depositBuyer"`
	PaymentMethod uint8  `json:"paymentMethod"`
	PriceToken    string `json:"priceToken,omitempty"`
	DepositToken  string `json:"depositToken,omitempty"`
	Quantity      uint64 `json:"quantity"`
	Auth          string `json:"auth"`
}

type createOfferResult struct {
	PromiseID string `json:"promiseId"`
	SupplyID  uint64 `json:"supplyId"`
}

// handleCreateOffer registers the promise, mints the voucher set and escrows
// the seller deposits in one call.
func (s *Server) handleCreateOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params createOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	depositSeller, err := parseAmount(params.DepositSeller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	depositBuyer, err := parseAmount(params.DepositBuyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	promiseID, err := s.kernel.CreatePromise(seller, params.ValidFrom, params.ValidTo, price, depositSeller, depositBuyer)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	supplyID, err := s.kernel.CreateSupply(seller, promiseID, voucher.PaymentMethod(params.PaymentMethod), params.PriceToken, params.DepositToken, params.Quantity)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	if depositSeller.Sign() > 0 {
		if err := s.cashier.FundSupply(seller, supplyID, params.Quantity, []byte(params.Auth)); err != nil {
			// An offer whose seller deposit never arrived must not stay
			// buyable: burn the minted set so commits find no supply.
			if _, burnErr := s.kernel.CancelOrFaultVoucherSet(supplyID, seller); burnErr != nil {
				s.logger.Error("offer unwind failed", "supplyId", uint64(supplyID), "err", burnErr)
			}
			respondEngineError(w, req, err)
			return
		}
	}
	writeResult(w, req.ID, createOfferResult{
		PromiseID: hex.EncodeToString(promiseID[:]),
		SupplyID:  uint64(supplyID),
	})
}

type buyParams struct {
	SupplyID uint64 `json:"supplyId"`
	Buyer    string `json:"buyer"`
	Auth     string `json:"auth"`
}

type buyResult struct {
	VoucherID voucherIDJSON `json:"voucherId"`
}

type voucherIDJSON struct {
	Supply uint64 `json:"supply"`
	Seq    uint64 `json:"seq"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.buy(w, req, false)
}

// handleBuyGated is handleBuy for voucher sets the seller restricted to
// pre-approved buyers; it burns the buyer's one-shot eligibility.
func (s *Server) handleBuyGated(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.buy(w, req, true)
}

func (s *Server) buy(w http.ResponseWriter, req *RPCRequest, gated bool) {
	var params buyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	supplyID := voucher.SupplyID(params.SupplyID)
	if gated {
		if err := s.gate.Consume(buyer, supplyID); err != nil {
			respondEngineError(w, req, err)
			return
		}
	}
	if err := s.cashier.FundCommit(buyer, supplyID, []byte(params.Auth)); err != nil {
		if gated {
			s.regrant(supplyID, buyer)
		}
		respondEngineError(w, req, err)
		return
	}
	id, err := s.kernel.Commit(supplyID, buyer)
	if err != nil {
		// The commit can still fail after funding (empty or expired offer).
		// The pulled funds must go back so no escrow survives without a
		// voucher to settle it against.
		if refundErr := s.cashier.RefundCommit(buyer, supplyID); refundErr != nil {
			s.logger.Error("buy unwind failed", "supplyId", params.SupplyID, "err", refundErr)
		}
		if gated {
			s.regrant(supplyID, buyer)
		}
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, buyResult{VoucherID: voucherIDJSON{Supply: uint64(id.Supply), Seq: id.Seq}})
}

// regrant restores a one-shot gate grant consumed by a buy that never
// committed.
func (s *Server) regrant(supplyID voucher.SupplyID, buyer [20]byte) {
	if err := s.gate.Allow(supplyID, buyer); err != nil {
		s.logger.Error("gate regrant failed", "supplyId", uint64(supplyID), "err", err)
	}
}

type voucherActorParams struct {
	VoucherID voucherIDJSON `json:"voucherId"`
	Caller    string        `json:"caller"`
}

func (p voucherActorParams) id() voucher.VoucherID {
	return voucher.VoucherID{Supply: voucher.SupplyID(p.VoucherID.Supply), Seq: p.VoucherID.Seq}
}

// holderAction decodes the shared holder-call parameters and runs fn.
func (s *Server) holderAction(w http.ResponseWriter, req *RPCRequest, fn func(voucher.VoucherID, [20]byte) error) {
	var params voucherActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(params.id(), caller); err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.holderAction(w, req, s.kernel.Redeem)
}

func (s *Server) handleRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.holderAction(w, req, s.kernel.Refund)
}

func (s *Server) handleComplain(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.holderAction(w, req, s.kernel.Complain)
}

func (s *Server) handleCancelFault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.holderAction(w, req, s.kernel.CancelOrFault)
}

type voucherIDParams struct {
	VoucherID voucherIDJSON `json:"voucherId"`
}

func (p voucherIDParams) id() voucher.VoucherID {
	return voucher.VoucherID{Supply: voucher.SupplyID(p.VoucherID.Supply), Seq: p.VoucherID.Seq}
}

func (s *Server) handleExpire(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params voucherIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.kernel.TriggerExpiration(params.id()); err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleFinalize(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params voucherIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	finalized, err := s.kernel.TriggerFinalize(params.id())
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"finalized": finalized})
}

type cancelSetParams struct {
	SupplyID uint64 `json:"supplyId"`
	Seller   string `json:"seller"`
}

type cancelSetResult struct {
	Burned uint64 `json:"burned"`
}

// handleCancelSet withdraws the remaining supply from sale and immediately
// pays the matching seller deposits back.
func (s *Server) handleCancelSet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params cancelSetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	supplyID := voucher.SupplyID(params.SupplyID)
	burned, err := s.kernel.CancelOrFaultVoucherSet(supplyID, seller)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	prom, err := s.kernel.PromiseOfSupply(supplyID)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	if prom.DepositSeller.Sign() > 0 {
		if err := s.cashier.WithdrawDepositsSeller(supplyID, burned, seller); err != nil {
			respondEngineError(w, req, err)
			return
		}
	}
	writeResult(w, req.ID, cancelSetResult{Burned: burned})
}

type voucherStatusJSON struct {
	VoucherID        voucherIDJSON `json:"voucherId"`
	PromiseID        string        `json:"promiseId"`
	Status           string        `json:"status"`
	Holder           string        `json:"holder"`
	PaymentReleased  bool          `json:"paymentReleased"`
	DepositsReleased bool          `json:"depositsReleased"`
	ComplainStart    int64         `json:"complainPeriodStart,omitempty"`
	CancelFaultStart int64         `json:"cancelFaultPeriodStart,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params voucherIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id := params.id()
	rec, err := s.kernel.VoucherOf(id)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	holder, err := s.kernel.HolderOf(id)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, voucherStatusJSON{
		VoucherID:        voucherIDJSON{Supply: uint64(id.Supply), Seq: id.Seq},
		PromiseID:        hex.EncodeToString(rec.PromiseID[:]),
		Status:           rec.Status.String(),
		Holder:           formatAddress(holder),
		PaymentReleased:  rec.PaymentReleased,
		DepositsReleased: rec.DepositsReleased,
		ComplainStart:    rec.ComplainPeriodStart,
		CancelFaultStart: rec.CancelFaultPeriodStart,
	})
}

type promiseIDParams struct {
	PromiseID string `json:"promiseId"`
}

type promiseJSON struct {
	PromiseID     string `json:"promiseId"`
	Seller        string `json:"seller"`
	ValidFrom     int64  `json:"validFrom"`
	ValidTo       int64  `json:"validTo"`
	Price         string `json:"price"`
	DepositSeller string `json:"depositSeller"`
	DepositBuyer  string `json:"depositBuyer"`
}

func (s *Server) handleGetPromise(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params promiseIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(params.PromiseID), "0x"))
	if err != nil || len(raw) != 32 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "promiseId must be 32 hex bytes")
		return
	}
	var id voucher.PromiseID
	copy(id[:], raw)
	prom, err := s.kernel.PromiseOf(id)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, promiseToJSON(prom))
}

func promiseToJSON(prom *voucher.Promise) promiseJSON {
	return promiseJSON{
		PromiseID:     hex.EncodeToString(prom.ID[:]),
		Seller:        formatAddress(prom.Seller),
		ValidFrom:     prom.ValidFrom,
		ValidTo:       prom.ValidTo,
		Price:         prom.Price.String(),
		DepositSeller: prom.DepositSeller.String(),
		DepositBuyer:  prom.DepositBuyer.String(),
	}
}

type supplyIDParams struct {
	SupplyID uint64 `json:"supplyId"`
}

type supplyJSON struct {
	SupplyID      uint64      `json:"supplyId"`
	PromiseID     string      `json:"promiseId"`
	PaymentMethod uint8       `json:"paymentMethod"`
	PriceToken    string      `json:"priceToken,omitempty"`
	DepositToken  string      `json:"depositToken,omitempty"`
	Remaining     uint64      `json:"remaining"`
	Promise       promiseJSON `json:"promise"`
}

func (s *Server) handleGetSupply(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params supplyIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	supplyID := voucher.SupplyID(params.SupplyID)
	sup, err := s.kernel.SupplyOf(supplyID)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	prom, err := s.kernel.PromiseOf(sup.PromiseID)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	remaining, err := s.kernel.RemainingSupply(supplyID)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, supplyJSON{
		SupplyID:      uint64(sup.ID),
		PromiseID:     hex.EncodeToString(sup.PromiseID[:]),
		PaymentMethod: uint8(sup.Method),
		PriceToken:    sup.PriceToken,
		DepositToken:  sup.DepositToken,
		Remaining:     remaining,
		Promise:       promiseToJSON(prom),
	})
}

type transferVoucherParams struct {
	VoucherID voucherIDJSON `json:"voucherId"`
	From      string        `json:"from"`
	To        string        `json:"to"`
}

// handleTransferVoucher moves a voucher token to a new holder and repoints the
// escrow legs still in play so later distributions settle against the new
// owner.
func (s *Server) handleTransferVoucher(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferVoucherParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseBech32Address(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id := voucher.VoucherID{Supply: voucher.SupplyID(params.VoucherID.Supply), Seq: params.VoucherID.Seq}
	if err := s.tokens.TransferVoucher(from, to, id); err != nil {
		respondEngineError(w, req, err)
		return
	}
	if err := s.cashier.OnVoucherTransfer(id, from, to); err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type transferSetParams struct {
	SupplyID uint64 `json:"supplyId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type transferSetResult struct {
	Transferred uint64 `json:"transferred"`
}

// handleTransferSet hands the whole remaining voucher set to a new seller: the
// supply tokens move, the promise's seller repoints and the escrowed deposits
// covering the unsold units follow.
func (s *Server) handleTransferSet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params transferSetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseBech32Address(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	supplyID := voucher.SupplyID(params.SupplyID)
	prom, err := s.kernel.PromiseOfSupply(supplyID)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	if prom.Seller != from {
		respondEngineError(w, req, voucher.ErrNotSeller)
		return
	}
	remaining, err := s.kernel.RemainingSupply(supplyID)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	if remaining == 0 {
		respondEngineError(w, req, voucher.ErrOfferEmpty)
		return
	}
	if err := s.tokens.TransferSupply(from, to, supplyID, remaining); err != nil {
		respondEngineError(w, req, err)
		return
	}
	if err := s.kernel.OnSupplyTransfer(supplyID, from, to); err != nil {
		respondEngineError(w, req, err)
		return
	}
	if err := s.cashier.OnSupplyTransfer(supplyID, from, to, remaining); err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, transferSetResult{Transferred: remaining})
}

type gateAllowParams struct {
	SupplyID uint64 `json:"supplyId"`
	User     string `json:"user"`
	Caller   string `json:"caller"`
}

// handleGateAllow grants one gated commit; only the voucher set's seller may
// grant access.
func (s *Server) handleGateAllow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params gateAllowParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	user, err := parseBech32Address(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	supplyID := voucher.SupplyID(params.SupplyID)
	prom, err := s.kernel.PromiseOfSupply(supplyID)
	if err != nil {
		respondEngineError(w, req, err)
		return
	}
	if prom.Seller != caller {
		respondEngineError(w, req, voucher.ErrNotSeller)
		return
	}
	if err := s.gate.Allow(supplyID, user); err != nil {
		respondEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
