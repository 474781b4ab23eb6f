package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"moveflow/auth"
	"moveflow/notify"
	"moveflow/order"
	"moveflow/partner"
	"moveflow/quote"
	"moveflow/referral"
	"moveflow/storage"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

// envelope is the uniform response shape. Success and Error are mutually
// exclusive; Data is omitted when there is nothing to return.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	auth       *auth.Service
	partners   *partner.Service
	quotes     *quote.Service
	orders     *order.Service
	referrals  *referral.Service
	dispatcher *notify.Dispatcher
	uploads    *storage.Store // nil when no bucket is configured
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/code", s.handleRequestCode)
	mux.HandleFunc("POST /api/auth/verify", s.handleVerifyCode)

	mux.Handle("GET /api/me", s.withAuth(s.handleGetMe))
	mux.Handle("PUT /api/me", s.withAuth(s.handleUpdateMe))

	mux.Handle("POST /api/requests", s.withAuth(s.handleCreateRequest))
	mux.Handle("GET /api/requests", s.withAuth(s.handleListRequests))
	mux.Handle("GET /api/requests/{id}", s.withAuth(s.handleGetRequest))
	mux.Handle("POST /api/requests/{id}/cancel", s.withAuth(s.handleCancelRequest))
	mux.Handle("GET /api/requests/{id}/quotes", s.withAuth(s.handleListQuotes))
	mux.Handle("GET /api/requests/{id}/notifications", s.withAuth(s.requireAdmin(s.handleListNotifications)))
	mux.Handle("POST /api/requests/{id}/notifications/resend", s.withAuth(s.requireAdmin(s.handleResendNotifications)))

	mux.Handle("POST /api/quotes", s.withAuth(s.handleSubmitQuote))
	mux.Handle("POST /api/quotes/{id}/accept", s.withAuth(s.handleAcceptQuote))

	mux.Handle("POST /api/orders", s.withAuth(s.handleCreateOrder))
	mux.Handle("GET /api/orders", s.withAuth(s.handleListOrders))
	mux.Handle("GET /api/orders/{id}", s.withAuth(s.handleGetOrder))
	mux.Handle("POST /api/orders/{id}/cancel", s.withAuth(s.handleCancelOrder))
	mux.Handle("POST /api/orders/{id}/status", s.withAuth(s.handleOrderStatus))
	mux.Handle("POST /api/orders/{id}/notes", s.withAuth(s.handleOrderNote))
	mux.Handle("POST /api/orders/{id}/payments", s.withAuth(s.handleCreatePayment))

	mux.Handle("POST /api/payments/{id}/confirm", s.withAuth(s.handleConfirmPayment))
	mux.Handle("POST /api/payments/{id}/fail", s.withAuth(s.handleFailPayment))
	mux.Handle("POST /api/payments/{id}/refund", s.withAuth(s.requireAdmin(s.handleRefund)))

	mux.Handle("POST /api/partners", s.withAuth(s.handleRegisterPartner))
	mux.Handle("GET /api/partners", s.withAuth(s.handleListPartners))
	mux.Handle("GET /api/partners/{id}", s.withAuth(s.handleGetPartner))
	mux.Handle("POST /api/partners/{id}/activate", s.withAuth(s.requireAdmin(s.handleActivatePartner)))
	mux.Handle("POST /api/partners/{id}/suspend", s.withAuth(s.requireAdmin(s.handleSuspendPartner)))
	mux.Handle("POST /api/partners/{id}/reviews", s.withAuth(s.handleAddReview))
	mux.HandleFunc("GET /api/partners/{id}/reviews", s.handleListReviews)

	mux.Handle("GET /api/referral/code", s.withAuth(s.handleReferralCode))
	mux.Handle("POST /api/referral/register", s.withAuth(s.handleReferralRegister))
	mux.Handle("GET /api/referral/balance", s.withAuth(s.handleReferralBalance))
	mux.Handle("GET /api/referral/rewards", s.withAuth(s.handleReferralRewards))
	mux.Handle("POST /api/referral/use", s.withAuth(s.handleReferralUse))

	mux.Handle("POST /api/uploads", s.withAuth(s.handleUpload))

	mux.Handle("POST /api/settlements", s.withAuth(s.requireAdmin(s.handleSettle)))

	return mux
}

// withAuth parses the bearer token and stashes the user identity in the
// request context. Requests without a valid token are rejected.
func (s *Server) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			fail(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		userID, role, err := s.auth.VerifyToken(token)
		if err != nil {
			fail(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		ctx := contextWithIdentity(r.Context(), userID, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if roleFrom(r) != auth.RoleAdmin {
			fail(w, http.StatusForbidden, msgForbidden)
			return
		}
		next(w, r)
	}
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func fail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: message}); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// failErr translates a service error through the message table. Internal
// errors are logged server-side with their real cause.
func failErr(w http.ResponseWriter, err error) {
	resp := classify(err)
	if resp.status == http.StatusInternalServerError {
		log.Printf("api: internal error: %v", err)
	}
	fail(w, resp.status, resp.message)
}

// decode parses the JSON body into dst, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		fail(w, http.StatusBadRequest, msgBadRequest)
		return false
	}
	return true
}
