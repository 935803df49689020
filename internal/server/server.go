package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SamFelix03/OnlyYield/internal/chain"
	"github.com/SamFelix03/OnlyYield/internal/distributor"
	"github.com/SamFelix03/OnlyYield/internal/funds"
	"github.com/SamFelix03/OnlyYield/internal/ledger"
	"github.com/SamFelix03/OnlyYield/internal/metrics"
	"github.com/SamFelix03/OnlyYield/internal/withdrawal"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the ledger surface the API needs. *ledger.Store satisfies
// it.
type Store interface {
	Ping(ctx context.Context) error
	UpsertRecipient(ctx context.Context, r ledger.Recipient) error
	ListRecipients(ctx context.Context) ([]ledger.Recipient, error)
	CreateDonation(ctx context.Context, params ledger.CreateDonationParams) (uuid.UUID, error)
	ListDonations(ctx context.Context, donor string, limit int) ([]ledger.Donation, error)
	MarkWithdrawn(ctx context.Context, id uuid.UUID, withdrawTxHash string) error
	ReplaceDonorSelections(ctx context.Context, donor string, recipients []string) error
	ListYieldDistributions(ctx context.Context, donor, recipient string, limit int) ([]ledger.YieldDistribution, error)
	DonationsForRecipient(ctx context.Context, recipient string) ([]ledger.RecipientDonation, error)
}

// CycleRunner runs one distribution cycle. *distributor.Runner
// satisfies it.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*distributor.CycleResult, error)
}

// Withdrawer settles donation withdrawals. *withdrawal.Orchestrator
// satisfies it.
type Withdrawer interface {
	Withdraw(ctx context.Context, req withdrawal.Request) (*withdrawal.Outcome, error)
}

// FundsManager moves vault funds. *funds.Manager satisfies it.
type FundsManager interface {
	Status(ctx context.Context) (*funds.Status, error)
	Sweep(ctx context.Context) (*funds.MoveResult, error)
	Supply(ctx context.Context) (*funds.MoveResult, error)
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Config holds the API server configuration.
type Config struct {
	Logger     *slog.Logger
	ListenAddr string
	Store      Store
	Runner     CycleRunner
	Withdrawer Withdrawer
	Funds      FundsManager
	Build      BuildInfo
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("cycle runner is required")
	}
	if c.Withdrawer == nil {
		return fmt.Errorf("withdrawer is required")
	}
	if c.Funds == nil {
		return fmt.Errorf("funds manager is required")
	}
	return nil
}

// Server is the HTTP API for the donation platform.
type Server struct {
	log    *slog.Logger
	cfg    Config
	router *chi.Mux
	srv    *http.Server
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		log:    cfg.Logger,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // distribution cycles settle on-chain
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/distribute-yield", s.handleDistributeYield)
		r.Post("/orchestrate/withdraw", s.handleOrchestrateWithdraw)

		r.Get("/donations", s.handleListDonations)
		r.Post("/donations", s.handleCreateDonation)
		r.Post("/donations/withdraw", s.handleMarkWithdrawn)

		r.Get("/recipients", s.handleListRecipients)
		r.Post("/recipients", s.handleUpsertRecipient)

		r.Post("/selections", s.handleReplaceSelections)

		r.Get("/yield-distributions", s.handleListYieldDistributions)
		r.Get("/creator-donations", s.handleCreatorDonations)
		r.Get("/donor-feed", s.handleDonorFeed)

		r.Get("/funds/status", s.handleFundsStatus)
		r.Post("/funds/withdraw", s.handleFundsSweep)
		r.Post("/funds/supply", s.handleFundsSupply)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("database not ready: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Build)
}

func (s *Server) handleDistributeYield(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Runner.RunCycle(r.Context())
	switch {
	case errors.Is(err, distributor.ErrCycleInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		// The partial result carries the trace up to the failure.
		s.writeJSON(w, http.StatusInternalServerError, res)
	default:
		s.writeJSON(w, http.StatusOK, res)
	}
}

type withdrawRequest struct {
	DonationID         string `json:"donation_id"`
	DonorWalletAddress string `json:"donor_wallet_address"`
	AmountBaseUnits    string `json:"amount_in_base_units"`
}

func (s *Server) handleOrchestrateWithdraw(w http.ResponseWriter, r *http.Request) {
	var body withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.DonationID == "" || body.DonorWalletAddress == "" {
		s.writeError(w, http.StatusBadRequest, "donation_id and donor_wallet_address required")
		return
	}
	donationID, err := uuid.Parse(body.DonationID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid donation_id")
		return
	}

	outcome, err := s.cfg.Withdrawer.Withdraw(r.Context(), withdrawal.Request{
		DonationID:         donationID,
		DonorWalletAddress: body.DonorWalletAddress,
		AmountBaseUnits:    strings.TrimSpace(body.AmountBaseUnits),
	})
	if err != nil {
		s.writeWithdrawalError(w, err)
		return
	}

	resp := map[string]any{
		"ok":                   true,
		"same_chain":           outcome.SameChain,
		"withdraw_tx_hash":     outcome.WithdrawTxHash,
		"amount_in_base_units": outcome.AmountBaseUnits,
	}
	if outcome.SameChain {
		resp["message"] = "Same chain withdrawal completed - funds are in donor's account"
	} else {
		resp["withdraw_completed"] = true
		resp["source_chain"] = outcome.Bridge.SourceChain
		resp["source_chain_id"] = outcome.Bridge.SourceChainID
		resp["source_usdc_address"] = outcome.Bridge.SourceUSDCAddress
		resp["destination_chain"] = outcome.Bridge.DestinationChain
		resp["destination_chain_id"] = outcome.Bridge.DestinationChainID
		resp["destination_usdc_address"] = outcome.Bridge.DestinationUSDCAddress
		resp["message"] = "Withdrawal completed - bridge funds to the original chain"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeWithdrawalError maps the orchestrator's typed errors onto HTTP
// statuses, with structured payloads where the caller needs more than
// a message.
func (s *Server) writeWithdrawalError(w http.ResponseWriter, err error) {
	var approval *withdrawal.ApprovalRequiredError
	var noAssets *withdrawal.NoWithdrawableAssetsError
	switch {
	case errors.Is(err, withdrawal.ErrDonationNotFound):
		s.writeError(w, http.StatusNotFound, "Donation not found")
	case errors.Is(err, withdrawal.ErrAlreadyWithdrawn):
		s.writeError(w, http.StatusConflict, "Donation already withdrawn")
	case errors.Is(err, withdrawal.ErrDonorMismatch):
		s.writeError(w, http.StatusForbidden, "Donor wallet address does not match donation")
	case errors.Is(err, withdrawal.ErrUnsupportedChain),
		errors.Is(err, withdrawal.ErrNoShares):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &approval):
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":                "Insufficient approval",
			"message":              approval.Error(),
			"needs_approval":       true,
			"strategy_address":     approval.StrategyAddress.Hex(),
			"orchestrator_address": approval.OrchestratorAddress.Hex(),
			"required_shares":      approval.RequiredShares.String(),
			"current_allowance":    approval.CurrentAllowance.String(),
		})
	case errors.As(err, &noAssets):
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":         noAssets.Error(),
			"estimated_max": noAssets.EstimatedMax.String(),
		})
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListDonations(w http.ResponseWriter, r *http.Request) {
	donor := strings.TrimSpace(r.URL.Query().Get("donor"))
	donations, err := s.cfg.Store.ListDonations(r.Context(), donor, 100)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"donations": emptyIfNil(donations)})
}

type createDonationRequest struct {
	DonorWalletAddress string   `json:"donor_wallet_address"`
	InputAssetAddress  string   `json:"input_asset_address"`
	TargetAssetAddress string   `json:"target_asset_address"`
	AmountIn           string   `json:"amount_in"`
	AmountInBaseUnits  string   `json:"amount_in_base_units"`
	ChainID            int64    `json:"chain_id"`
	DepositTxHash      string   `json:"deposit_tx_hash"`
	Recipients         []string `json:"recipient_wallet_addresses"`
}

func (s *Server) handleCreateDonation(w http.ResponseWriter, r *http.Request) {
	var body createDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.DonorWalletAddress) == "" {
		s.writeError(w, http.StatusBadRequest, "donor_wallet_address required")
		return
	}

	id, err := s.cfg.Store.CreateDonation(r.Context(), ledger.CreateDonationParams{
		DonorWalletAddress: strings.TrimSpace(body.DonorWalletAddress),
		ChainID:            body.ChainID,
		InputAssetAddress:  body.InputAssetAddress,
		TargetAssetAddress: body.TargetAssetAddress,
		AmountIn:           body.AmountIn,
		AmountInBaseUnits:  body.AmountInBaseUnits,
		DepositTxHash:      chain.ExtractTxHash(body.DepositTxHash),
		Recipients:         body.Recipients,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "donation_id": id})
}

type markWithdrawnRequest struct {
	DonationID     string `json:"donation_id"`
	WithdrawTxHash string `json:"withdraw_tx_hash"`
}

func (s *Server) handleMarkWithdrawn(w http.ResponseWriter, r *http.Request) {
	var body markWithdrawnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.DonationID == "" || body.WithdrawTxHash == "" {
		s.writeError(w, http.StatusBadRequest, "donation_id and withdraw_tx_hash required")
		return
	}
	id, err := uuid.Parse(body.DonationID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid donation_id")
		return
	}

	err = s.cfg.Store.MarkWithdrawn(r.Context(), id, chain.ExtractTxHash(body.WithdrawTxHash))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Donation not found")
	case errors.Is(err, ledger.ErrAlreadyWithdrawn):
		s.writeError(w, http.StatusConflict, "Donation already withdrawn")
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := s.cfg.Store.ListRecipients(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"recipients": emptyIfNil(recipients)})
}

func (s *Server) handleUpsertRecipient(w http.ResponseWriter, r *http.Request) {
	var body ledger.Recipient
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body.WalletAddress = strings.TrimSpace(body.WalletAddress)
	if body.WalletAddress == "" {
		s.writeError(w, http.StatusBadRequest, "wallet_address required")
		return
	}
	if body.PreferredChain != nil && *body.PreferredChain != "" {
		if _, ok := chain.NetworkByKey(*body.PreferredChain); !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported preferred_chain %q", *body.PreferredChain))
			return
		}
	}

	if err := s.cfg.Store.UpsertRecipient(r.Context(), body); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type selectionsRequest struct {
	DonorWalletAddress string   `json:"donor_wallet_address"`
	Recipients         []string `json:"recipient_wallet_addresses"`
}

func (s *Server) handleReplaceSelections(w http.ResponseWriter, r *http.Request) {
	var body selectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	donor := strings.TrimSpace(body.DonorWalletAddress)
	if donor == "" {
		s.writeError(w, http.StatusBadRequest, "donor_wallet_address required")
		return
	}
	var recipients []string
	for _, addr := range body.Recipients {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		s.writeError(w, http.StatusBadRequest, "recipient_wallet_addresses required")
		return
	}

	if err := s.cfg.Store.ReplaceDonorSelections(r.Context(), donor, recipients); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListYieldDistributions(w http.ResponseWriter, r *http.Request) {
	donor := strings.TrimSpace(r.URL.Query().Get("donor"))
	recipient := strings.TrimSpace(r.URL.Query().Get("recipient"))
	distributions, err := s.cfg.Store.ListYieldDistributions(r.Context(), donor, recipient, 200)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"yield_distributions": emptyIfNil(distributions)})
}

func (s *Server) handleCreatorDonations(w http.ResponseWriter, r *http.Request) {
	recipient := strings.TrimSpace(r.URL.Query().Get("recipient"))
	if recipient == "" {
		s.writeError(w, http.StatusBadRequest, "recipient required")
		return
	}
	donations, err := s.cfg.Store.DonationsForRecipient(r.Context(), recipient)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"donations": emptyIfNil(donations)})
}

// donorFeedEntry is one donation with every payout it has produced.
type donorFeedEntry struct {
	ledger.Donation
	Distributions []ledger.YieldDistribution `json:"distributions"`
}

func (s *Server) handleDonorFeed(w http.ResponseWriter, r *http.Request) {
	donor := strings.TrimSpace(r.URL.Query().Get("donor"))
	if donor == "" {
		s.writeError(w, http.StatusBadRequest, "donor wallet address required")
		return
	}

	donations, err := s.cfg.Store.ListDonations(r.Context(), donor, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	distributions, err := s.cfg.Store.ListYieldDistributions(r.Context(), donor, "", 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byDonation := make(map[uuid.UUID][]ledger.YieldDistribution)
	for _, d := range distributions {
		byDonation[d.DonationID] = append(byDonation[d.DonationID], d)
	}
	feed := make([]donorFeedEntry, 0, len(donations))
	for _, donation := range donations {
		feed = append(feed, donorFeedEntry{
			Donation:      donation,
			Distributions: emptyIfNil(byDonation[donation.ID]),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"donations": feed})
}

func (s *Server) handleFundsStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cfg.Funds.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleFundsSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Funds.Sweep(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFundsSupply(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Funds.Supply(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// emptyIfNil keeps list responses as [] instead of null.
func emptyIfNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
