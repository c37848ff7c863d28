package expensly

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	pkghttp "github.com/expensly/expensly-go/pkg/http"
)

var ErrExpenseNotFound = errors.New("expense not found")

type (
	// ExpenseService is the CRUD client for /expenses. Its client carries
	// the authenticated pipeline, so an expired token is recovered
	// transparently via the coordinated refresh.
	ExpenseService struct {
		client pkghttp.Client
	}

	Expense struct {
		ID         uuid.UUID `json:"id"`
		Amount     int64     `json:"amount"` // minor currency units
		Currency   string    `json:"currency"`
		Category   string    `json:"category"`
		Note       string    `json:"note,omitempty"`
		OccurredAt time.Time `json:"occurredAt"`
		CreatedAt  time.Time `json:"createdAt"`
		UpdatedAt  time.Time `json:"updatedAt"`
	}

	ExpenseData struct {
		Amount     int64     `json:"amount"`
		Currency   string    `json:"currency"`
		Category   string    `json:"category"`
		Note       string    `json:"note,omitempty"`
		OccurredAt time.Time `json:"occurredAt"`
	}
)

func NewExpenseService(client pkghttp.Client) *ExpenseService {
	return &ExpenseService{client: client}
}

func (s *ExpenseService) List(ctx context.Context) ([]Expense, error) {
	var result []Expense
	resp, err := s.client.NewRequest(ctx).
		SetResult(&result).
		Get("/expenses")
	if err != nil {
		return nil, fmt.Errorf("request expenses.list: %w", err)
	}

	if err := checkStatus(resp.StatusCode(), http.StatusOK, "expenses.list"); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *ExpenseService) Get(ctx context.Context, id uuid.UUID) (*Expense, error) {
	var result Expense
	resp, err := s.client.NewRequest(ctx).
		SetResult(&result).
		Get("/expenses/" + id.String())
	if err != nil {
		return nil, fmt.Errorf("request expenses.get: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrExpenseNotFound
	}
	if err := checkStatus(resp.StatusCode(), http.StatusOK, "expenses.get"); err != nil {
		return nil, err
	}

	return &result, nil
}

func (s *ExpenseService) Create(ctx context.Context, data ExpenseData) (*Expense, error) {
	var result Expense
	resp, err := s.client.NewRequest(ctx).
		SetBody(data).
		SetResult(&result).
		Post("/expenses")
	if err != nil {
		return nil, fmt.Errorf("request expenses.create: %w", err)
	}

	if err := checkStatus(resp.StatusCode(), http.StatusCreated, "expenses.create"); err != nil {
		return nil, err
	}

	return &result, nil
}

func (s *ExpenseService) Update(ctx context.Context, id uuid.UUID, data ExpenseData) (*Expense, error) {
	var result Expense
	resp, err := s.client.NewRequest(ctx).
		SetBody(data).
		SetResult(&result).
		Put("/expenses/" + id.String())
	if err != nil {
		return nil, fmt.Errorf("request expenses.update: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrExpenseNotFound
	}
	if err := checkStatus(resp.StatusCode(), http.StatusOK, "expenses.update"); err != nil {
		return nil, err
	}

	return &result, nil
}

func (s *ExpenseService) Delete(ctx context.Context, id uuid.UUID) error {
	resp, err := s.client.NewRequest(ctx).
		Delete("/expenses/" + id.String())
	if err != nil {
		return fmt.Errorf("request expenses.delete: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return ErrExpenseNotFound
	}

	return checkStatus(resp.StatusCode(), http.StatusNoContent, "expenses.delete")
}

func checkStatus(code, expected int, name string) error {
	switch code {
	case expected:
		return nil
	case http.StatusUnauthorized:
		return ErrUnauthenticated
	default:
		return fmt.Errorf("request %s: invalid status code %d", name, code)
	}
}
