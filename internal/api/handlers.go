// internal/api/handlers.go
package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/internal/payment"
	"github.com/zkwallet/zkwallet/pkg/midtrans"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	ZKEnabled bool   `json:"zkEnabled"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.auth.Register(r.Context(), req.Email, req.Password, req.ZKEnabled)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	token, err := s.sessions.Create(user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	setSessionCookie(w, token)

	writeJSON(w, http.StatusCreated, response{Success: true, Data: userView(user)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Proof    string `json:"proof,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.auth.Login(r.Context(), req.Email, req.Password, req.Proof)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	token, err := s.sessions.Create(user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	setSessionCookie(w, token)

	writeJSON(w, http.StatusOK, response{Success: true, Data: userView(user)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.Destroy(cookie.Value)
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, response{Success: true})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	wlt, err := s.wallets.WalletByUserID(r.Context(), sessionUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Opportunistic refresh; serving the cached balance on failure.
	if err := s.wallets.SyncBalance(r.Context(), wlt); err != nil {
		logging.Warn("wallet balance sync failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, response{Success: true, Data: walletView(wlt)})
}

type importWalletRequest struct {
	PrivateKey string `json:"privateKey"`
	Address    string `json:"address"`
}

func (s *Server) handleImportWallet(w http.ResponseWriter, r *http.Request) {
	var req importWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wlt, err := s.wallets.ImportWallet(r.Context(), sessionUserID(r), req.PrivateKey, req.Address)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, response{Success: true, Data: walletView(wlt)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	wlt, err := s.wallets.WalletByUserID(r.Context(), sessionUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	history, err := s.wallets.History(r.Context(), wlt.ID, 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(history))
	for i := range history {
		views = append(views, transactionView(&history[i]))
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: views})
}

type paymentRequest struct {
	ReceiverAddress string `json:"receiverAddress"`
	Amount          string `json:"amount"`
	Proof           string `json:"proof,omitempty"`
	PrivacyFlag     bool   `json:"privacyFlag"`
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	wlt, err := s.wallets.WalletByUserID(r.Context(), sessionUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := s.payments.SendPayment(r.Context(), payment.Request{
		SenderWalletID:  wlt.ID,
		ReceiverAddress: req.ReceiverAddress,
		Amount:          amount,
		Proof:           req.Proof,
		Privacy:         req.PrivacyFlag,
	})
	if err != nil {
		// A broadcast failure still carries the transaction record.
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: "payment completed",
		Data:    transactionView(res.Transaction),
	})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	wlt, err := s.wallets.WalletByUserID(r.Context(), sessionUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	req, err := s.faucet.Dispense(r.Context(), wlt.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response{
		Success: true,
		Message: "test funds dispensed",
		Data: map[string]any{
			"amount":      req.Amount.String(),
			"chainTxHash": req.ChainTxHash,
			"simulated":   req.Simulated,
		},
	})
}

type topUpRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	userID := sessionUserID(r)
	wlt, err := s.wallets.WalletByUserID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	record, err := s.topups.CreateTopUp(r.Context(), userID, wlt.ID, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, response{Success: true, Data: topUpView(record)})
}

func (s *Server) handleTopUpList(w http.ResponseWriter, r *http.Request) {
	records, err := s.topups.TopUpsByUser(r.Context(), sessionUserID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(records))
	for i := range records {
		views = append(views, topUpView(&records[i]))
	}
	writeJSON(w, http.StatusOK, response{Success: true, Data: views})
}

func (s *Server) handleMidtransWebhook(w http.ResponseWriter, r *http.Request) {
	var n midtrans.Notification
	if err := decodeBody(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification body")
		return
	}

	if err := s.topups.HandleNotification(r.Context(), &n); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Success: true})
}

func userView(u *db.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"zkEnabled": u.ZKEnabled,
	}
}

func walletView(w *db.Wallet) map[string]any {
	view := map[string]any{
		"id":              w.ID,
		"internalAddress": w.InternalAddress,
		"balance":         w.Balance.String(),
		"currency":        w.Currency,
	}
	if w.ChainAddress != nil {
		view["chainAddress"] = *w.ChainAddress
	}
	if w.LastSyncAt != nil {
		view["lastSyncAt"] = w.LastSyncAt.Format(time.RFC3339)
	}
	return view
}

func transactionView(tx *db.Transaction) map[string]any {
	view := map[string]any{
		"id":        tx.ID,
		"type":      tx.Type,
		"amount":    tx.Amount.String(),
		"localHash": tx.LocalHash,
		"status":    tx.Status,
		"simulated": tx.Simulated,
		"createdAt": tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.ChainTxHash != nil {
		view["chainTxHash"] = *tx.ChainTxHash
	}
	return view
}

func topUpView(t *db.TopUpTransaction) map[string]any {
	view := map[string]any{
		"id":           t.ID,
		"orderId":      t.OrderID,
		"fiatAmount":   t.FiatAmount.String(),
		"fiatCurrency": t.FiatCurrency,
		"cryptoAmount": t.CryptoAmount.String(),
		"rate":         t.Rate.String(),
		"status":       t.Status,
		"snapToken":    t.SnapToken,
		"redirectUrl":  t.RedirectURL,
	}
	if t.ChainTxHash != nil {
		view["chainTxHash"] = *t.ChainTxHash
	}
	return view
}
