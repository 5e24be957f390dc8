package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredledger/pkg/dbr"
	"github.com/mcclellann/fredledger/pkg/ledger"
	"github.com/mcclellann/fredledger/pkg/models"
	"github.com/mcclellann/fredledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger instance.
type Server struct {
	ledger *ledger.Ledger
	dbr    *dbr.Checker
	log    *logrus.Logger
}

// NewServer creates a new Server.
func NewServer(l *ledger.Ledger, checker *dbr.Checker, log *logrus.Logger) *Server {
	return &Server{ledger: l, dbr: checker, log: log}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/installments", s.listInstallmentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/events", s.listEventsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/customers/{key}/wallet", s.walletHandler).Methods("GET")
	router.HandleFunc("/customers/{key}/wallet/credits", s.walletCreditsHandler).Methods("GET")
	router.HandleFunc("/customers/{key}/balance", s.balanceHandler).Methods("GET")
	router.HandleFunc("/customers/{key}/dbr", s.dbrHandler).Methods("GET")
	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingPaymentRef),
		errors.Is(err, ledger.ErrInvalidLoan),
		errors.Is(err, dbr.ErrInvalidIncome),
		errors.Is(err, dbr.ErrInvalidInstallment):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrLoanNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicatePayment),
		errors.Is(err, ledger.ErrPaymentInProgress),
		errors.Is(err, store.ErrConcurrentModification):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	http.Error(w, err.Error(), status)
}

func loanIDFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateLoanInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, schedule, err := s.ledger.CreateLoan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Loan         *models.Loan          `json:"loan"`
		Installments []*models.Installment `json:"installments"`
	}{loan, schedule})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outstanding, err := s.ledger.OutstandingTotal(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		*models.Loan
		Outstanding decimal.Decimal `json:"outstanding"`
	}{loan, outstanding})
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) listInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}
	insts, err := s.ledger.GetInstallments(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insts)
}

func (s *Server) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}
	events, err := s.ledger.GetPaymentEvents(r.Context(), loanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.PaymentEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := loanIDFrom(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount        decimal.Decimal `json:"amount"`
		PaymentRef    string          `json:"payment_ref"`
		PaymentMethod string          `json:"payment_method"`
		EventDate     time.Time       `json:"event_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.ledger.ProcessPayment(r.Context(), models.PaymentNotification{
		LoanID:        loanID,
		Amount:        req.Amount,
		PaymentRef:    req.PaymentRef,
		PaymentMethod: req.PaymentMethod,
		EventDate:     req.EventDate,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Receipt == nil {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) walletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.ledger.GetWallet(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) walletCreditsHandler(w http.ResponseWriter, r *http.Request) {
	credits, err := s.ledger.GetWalletCredits(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if credits == nil {
		credits = []*models.WalletCredit{}
	}
	writeJSON(w, http.StatusOK, credits)
}

func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	bal, err := s.ledger.GetAccountBalance(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) dbrHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	income, err := decimal.NewFromString(q.Get("income"))
	if err != nil {
		http.Error(w, "Invalid income", http.StatusBadRequest)
		return
	}
	newInstallment := decimal.Zero
	if v := q.Get("new_installment"); v != "" {
		if newInstallment, err = decimal.NewFromString(v); err != nil {
			http.Error(w, "Invalid new_installment", http.StatusBadRequest)
			return
		}
	}
	month := time.Now().UTC()
	if v := q.Get("month"); v != "" {
		if month, err = time.Parse("2006-01", v); err != nil {
			http.Error(w, "Invalid month, expected YYYY-MM", http.StatusBadRequest)
			return
		}
	}

	res, err := s.dbr.Check(r.Context(), mux.Vars(r)["key"], income, newInstallment, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
