// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zkwallet/zkwallet/internal/auth"
	"github.com/zkwallet/zkwallet/internal/faucet"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/internal/payment"
	"github.com/zkwallet/zkwallet/internal/topup"
	"github.com/zkwallet/zkwallet/internal/wallet"
	"github.com/zkwallet/zkwallet/internal/zkproof"
	"github.com/zkwallet/zkwallet/pkg/keys"
)

// Server wires the HTTP surface over the domain services.
type Server struct {
	auth     *auth.Service
	wallets  *wallet.Store
	payments *payment.Orchestrator
	faucet   *faucet.Dispenser
	topups   *topup.Service
	sessions *SessionStore
}

func NewServer(
	authSvc *auth.Service,
	wallets *wallet.Store,
	payments *payment.Orchestrator,
	dispenser *faucet.Dispenser,
	topups *topup.Service,
) *Server {
	return &Server{
		auth:     authSvc,
		wallets:  wallets,
		payments: payments,
		faucet:   dispenser,
		topups:   topups,
		sessions: NewSessionStore(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/webhook/midtrans", s.handleMidtransWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/wallet", s.handleWallet)
			r.Post("/wallet/import", s.handleImportWallet)
			r.Get("/wallet/history", s.handleHistory)
			r.Post("/payments", s.handlePayment)
			r.Post("/faucet", s.handleFaucet)
			r.Post("/topup", s.handleTopUp)
			r.Get("/topups", s.handleTopUpList)
		})
	})

	return r
}

type ctxKey int

const userIDKey ctxKey = 0

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID, ok := s.sessions.UserID(cookie.Value)
		if !ok {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func sessionUserID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error("writing response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, response{Success: false, Message: message})
}

// writeDomainError maps domain failures onto HTTP statuses. Every failure
// kind stays distinguishable in the message so the client can decide whether
// a retry makes sense.
func writeDomainError(w http.ResponseWriter, err error) {
	var cryptoErr *keys.CryptoError
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrProofRequired),
		errors.Is(err, auth.ErrInvalidProof):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, wallet.ErrDuplicateWallet):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidAddress),
		errors.Is(err, wallet.ErrKeyMismatch),
		errors.Is(err, topup.ErrAmountTooLow),
		errors.Is(err, zkproof.ErrMalformedProof):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, wallet.ErrInsufficientBalance),
		errors.Is(err, payment.ErrProofVerification),
		errors.Is(err, zkproof.ErrNullifierReused):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, wallet.ErrWalletNotFound),
		errors.Is(err, payment.ErrReceiverNotFound),
		errors.Is(err, topup.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cryptoErr):
		// Malformed key material from the client.
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, faucet.ErrCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, faucet.ErrMasterDrained):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, payment.ErrBroadcastFailed):
		// Ledger committed; surface the partial outcome honestly.
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, topup.ErrBadSignature):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		logging.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(into)
}
