package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vouchernet/crypto"
	"vouchernet/native/cashier"
	"vouchernet/native/voucher"
)

// PromiseIndex is the read surface over the append-only promise list the
// gateway pages through.
type PromiseIndex interface {
	PromiseCount() (uint64, error)
	PromiseAt(idx uint64) (voucher.PromiseID, bool)
}

// Server is the read-only HTTP facade: marketplace browsing, escrow lookups
// and operational endpoints. All mutations go through JSON-RPC.
type Server struct {
	kernel  *voucher.Kernel
	cashier *cashier.Ledger
	index   PromiseIndex
	logger  *slog.Logger
}

func NewServer(kernel *voucher.Kernel, cash *cashier.Ledger, index PromiseIndex) *Server {
	return &Server{
		kernel:  kernel,
		cashier: cash,
		index:   index,
		logger:  slog.Default(),
	}
}

// SetLogger overrides the request logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/promises", s.listPromises)
		v1.Get("/promises/{id}", s.getPromise)
		v1.Get("/supplies/{id}", s.getSupply)
		v1.Get("/vouchers/{supply}/{seq}", s.getVoucher)
		v1.Get("/escrow/{address}", s.getEscrow)
	})
	return r
}

// Start serves the gateway on addr until the listener fails.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("starting gateway", "addr", addr)
	return srv.ListenAndServe()
}

type errorJSON struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, voucher.ErrValidation):
		status = http.StatusNotFound
	case errors.Is(err, voucher.ErrAuthorization):
		status = http.StatusForbidden
	case errors.Is(err, voucher.ErrStateConflict), errors.Is(err, voucher.ErrWindowExpired):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorJSON{Error: err.Error()})
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

func promiseToJSON(prom *voucher.Promise) promiseJSON {
	return promiseJSON{
		PromiseID:     hex.EncodeToString(prom.ID[:]),
		Seller:        crypto.MustNewAddress(crypto.VoucherPrefix, prom.Seller).String(),
		ValidFrom:     prom.ValidFrom,
		ValidTo:       prom.ValidTo,
		Price:         prom.Price.String(),
		DepositSeller: prom.DepositSeller.String(),
		DepositBuyer:  prom.DepositBuyer.String(),
	}
}

const maxPageSize = 100

type promiseListJSON struct {
	Total    uint64        `json:"total"`
	Offset   uint64        `json:"offset"`
	Promises []promiseJSON `json:"promises"`
}

// listPromises pages through promises in creation order.
func (s *Server) listPromises(w http.ResponseWriter, r *http.Request) {
	total, err := s.index.PromiseCount()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorJSON{Error: err.Error()})
		return
	}
	offset := uint64(0)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorJSON{Error: "offset must be an unsigned integer"})
			return
		}
		offset = parsed
	}
	limit := uint64(20)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			writeJSON(w, http.StatusBadRequest, errorJSON{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	out := promiseListJSON{Total: total, Offset: offset, Promises: []promiseJSON{}}
	for idx := offset; idx < total && uint64(len(out.Promises)) < limit; idx++ {
		id, ok := s.index.PromiseAt(idx)
		if !ok {
			continue
		}
		prom, err := s.kernel.PromiseOf(id)
		if err != nil {
			continue
		}
		out.Promises = append(out.Promises, promiseToJSON(prom))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPromise(w http.ResponseWriter, r *http.Request) {
	raw, err := hex.DecodeString(strings.TrimPrefix(chi.URLParam(r, "id"), "0x"))
	if err != nil || len(raw) != 32 {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "promise id must be 32 hex bytes"})
		return
	}
	var id voucher.PromiseID
	copy(id[:], raw)
	prom, err := s.kernel.PromiseOf(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, promiseToJSON(prom))
}

type supplyJSON struct {
	SupplyID      uint64      `json:"supplyId"`
	PaymentMethod uint8       `json:"paymentMethod"`
	PriceToken    string      `json:"priceToken,omitempty"`
	DepositToken  string      `json:"depositToken,omitempty"`
	Remaining     uint64      `json:"remaining"`
	Promise       promiseJSON `json:"promise"`
}

func (s *Server) getSupply(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "supply id must be an unsigned integer"})
		return
	}
	supplyID := voucher.SupplyID(raw)
	sup, err := s.kernel.SupplyOf(supplyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	prom, err := s.kernel.PromiseOf(sup.PromiseID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	remaining, err := s.kernel.RemainingSupply(supplyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, supplyJSON{
		SupplyID:      uint64(sup.ID),
		PaymentMethod: uint8(sup.Method),
		PriceToken:    sup.PriceToken,
		DepositToken:  sup.DepositToken,
		Remaining:     remaining,
		Promise:       promiseToJSON(prom),
	})
}

type voucherJSON struct {
	Supply           uint64 `json:"supply"`
	Seq              uint64 `json:"seq"`
	PromiseID        string `json:"promiseId"`
	Status           string `json:"status"`
	Holder           string `json:"holder"`
	PaymentReleased  bool   `json:"paymentReleased"`
	DepositsReleased bool   `json:"depositsReleased"`
}

func (s *Server) getVoucher(w http.ResponseWriter, r *http.Request) {
	supply, err := strconv.ParseUint(chi.URLParam(r, "supply"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "supply must be an unsigned integer"})
		return
	}
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "seq must be an unsigned integer"})
		return
	}
	id := voucher.VoucherID{Supply: voucher.SupplyID(supply), Seq: seq}
	rec, err := s.kernel.VoucherOf(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	holder, err := s.kernel.HolderOf(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voucherJSON{
		Supply:           supply,
		Seq:              seq,
		PromiseID:        hex.EncodeToString(rec.PromiseID[:]),
		Status:           rec.Status.String(),
		Holder:           crypto.MustNewAddress(crypto.VoucherPrefix, holder).String(),
		PaymentReleased:  rec.PaymentReleased,
		DepositsReleased: rec.DepositsReleased,
	})
}

type escrowJSON struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
	Balance string `json:"balance"`
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Error: "invalid bech32 address"})
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("asset")))
	balance, err := s.cashier.EscrowBalance(asset, addr.Array())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, escrowJSON{
		Address: chi.URLParam(r, "address"),
		Asset:   asset,
		Balance: balance.String(),
	})
}
