// Package expenslytest provides an in-process fake of the Expensly API for
// package tests: credential login with refresh-cookie rotation, a counted
// refresh endpoint with failure injection, and an authenticated /expenses
// CRUD surface.
package expenslytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/expensly/expensly-go/internal/expensly"
)

const (
	RefreshCookieName = "expensly_refresh"

	UserID       = "f2a3159e-9c5a-4b8e-a683-1c26e4b2e6d4"
	UserEmail    = "dev@expensly.test"
	UserPassword = "correct-horse"

	accessTokenTTL = 15 * time.Minute
)

var signingKey = []byte("expenslytest-signing-key")

type Server struct {
	*httptest.Server

	mu            sync.Mutex
	expenses      map[uuid.UUID]expensly.Expense
	refreshCookie string
	minTokenGen   int64

	tokenGen     atomic.Int64
	refreshCalls atomic.Int64
	failRefresh  atomic.Bool
}

func NewServer() *Server {
	s := &Server{
		expenses: make(map[uuid.UUID]expensly.Expense),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	router.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	router.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	router.HandleFunc("/auth/logout-all", s.handleLogout).Methods(http.MethodPost)

	authenticated := router.PathPrefix("/expenses").Subrouter()
	authenticated.Use(s.requireAuth)
	authenticated.HandleFunc("", s.handleListExpenses).Methods(http.MethodGet)
	authenticated.HandleFunc("", s.handleCreateExpense).Methods(http.MethodPost)
	authenticated.HandleFunc("/{expenseID}", s.handleGetExpense).Methods(http.MethodGet)
	authenticated.HandleFunc("/{expenseID}", s.handleUpdateExpense).Methods(http.MethodPut)
	authenticated.HandleFunc("/{expenseID}", s.handleDeleteExpense).Methods(http.MethodDelete)

	s.Server = httptest.NewServer(router)
	return s
}

// RefreshCalls reports how many times the refresh endpoint was hit.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// FailRefresh makes the refresh endpoint answer 401 until reset.
func (s *Server) FailRefresh(fail bool) {
	s.failRefresh.Store(fail)
}

// RevokeAccessTokens invalidates every previously issued access token
// server-side while the tokens remain valid by their own expiry, the way a
// real deployment revokes sessions.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minTokenGen = s.tokenGen.Load()
}

// IssueToken mints an access token the server accepts, for seeding a
// session without going through login.
func (s *Server) IssueToken(subjectID, email string, expiresAt time.Time) string {
	return s.signToken(subjectID, email, expiresAt)
}

func (s *Server) signToken(subjectID, email string, expiresAt time.Time) string {
	gen := s.tokenGen.Add(1)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subjectID,
		"email": email,
		"iat":   time.Now().Unix(),
		"exp":   expiresAt.Unix(),
		"gen":   gen,
	})

	signed, err := token.SignedString(signingKey)
	if err != nil {
		panic(err)
	}

	return signed
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds expensly.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if creds.Email != UserEmail || creds.Password != UserPassword {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.establishSession(w, http.StatusOK)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var data struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if data.Email == UserEmail {
		w.WriteHeader(http.StatusConflict)
		return
	}

	s.establishSession(w, http.StatusCreated)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	if s.failRefresh.Load() {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	cookie, err := r.Cookie(RefreshCookieName)

	s.mu.Lock()
	validCookie := s.refreshCookie
	s.mu.Unlock()

	if err != nil || validCookie == "" || cookie.Value != validCookie {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.establishSession(w, http.StatusOK)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.refreshCookie = ""
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// establishSession rotates the refresh cookie and answers with a fresh
// access token, mirroring refresh-token rotation of the real API.
func (s *Server) establishSession(w http.ResponseWriter, statusCode int) {
	rotated := uuid.NewString()
	s.mu.Lock()
	s.refreshCookie = rotated
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    rotated,
		Path:     "/",
		HttpOnly: true,
	})

	writeJSON(w, statusCode, map[string]string{
		"accessToken": s.signToken(UserID, UserEmail, time.Now().Add(accessTokenTTL)),
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const bearerPrefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(bearerPrefix) || header[:len(bearerPrefix)] != bearerPrefix {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(header[len(bearerPrefix):], func(*jwt.Token) (any, error) {
			return signingKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		claims := token.Claims.(jwt.MapClaims)
		gen, _ := claims["gen"].(float64)

		s.mu.Lock()
		revoked := int64(gen) <= s.minTokenGen
		s.mu.Unlock()

		if revoked {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	result := make([]expensly.Expense, 0, len(s.expenses))
	for _, expense := range s.expenses {
		result = append(result, expense)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var data expensly.ExpenseData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	expense := expensly.Expense{
		ID:         uuid.New(),
		Amount:     data.Amount,
		Currency:   data.Currency,
		Category:   data.Category,
		Note:       data.Note,
		OccurredAt: data.OccurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.expenses[expense.ID] = expense
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, expense)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, ok := s.findExpense(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, expense)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	expense, ok := s.findExpense(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var data expensly.ExpenseData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	expense.Amount = data.Amount
	expense.Currency = data.Currency
	expense.Category = data.Category
	expense.Note = data.Note
	expense.OccurredAt = data.OccurredAt
	expense.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.expenses[expense.ID] = expense
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, expense)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	expense, ok := s.findExpense(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.mu.Lock()
	delete(s.expenses, expense.ID)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) findExpense(r *http.Request) (expensly.Expense, bool) {
	id, err := uuid.Parse(mux.Vars(r)["expenseID"])
	if err != nil {
		return expensly.Expense{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	expense, ok := s.expenses[id]
	return expense, ok
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
