// Package backend reaches the law office system that owns the client's
// cases, orders, tasks, appointments, consultations, payments and chat.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// StatusError is a backend answer outside the 2xx range.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend answered HTTP %d", e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

type Case struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Lawyer    string    `json:"lawyer"`
	Summary   string    `json:"summary,omitempty"`
	OpenedAt  time.Time `json:"opened_at"`
}

type Order struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	PlacedAt  time.Time `json:"placed_at"`
}

type Task struct {
	ID     string    `json:"id"`
	CaseID string    `json:"case_id,omitempty"`
	Title  string    `json:"title"`
	Status string    `json:"status"`
	DueAt  time.Time `json:"due_at"`
}

type Appointment struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Location string    `json:"location"`
	Status   string    `json:"status"`
	StartsAt time.Time `json:"starts_at"`
}

type Consultation struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Lawyer      string    `json:"lawyer"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requested_at"`
}

type Payment struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	PaidAt    time.Time `json:"paid_at"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	FromClient bool      `json:"from_client"`
	SentAt     time.Time `json:"sent_at"`
}

// Request carries who is asking and in which language answers are wanted.
type Request struct {
	Locale string
	Token  string
	UserID string
}

// API is the subset of the law office backend the portal reads and writes.
type API interface {
	Cases(ctx context.Context, req Request) ([]Case, error)
	Case(ctx context.Context, req Request, id string) (*Case, error)
	Orders(ctx context.Context, req Request) ([]Order, error)
	Order(ctx context.Context, req Request, id string) (*Order, error)
	Tasks(ctx context.Context, req Request) ([]Task, error)
	Appointments(ctx context.Context, req Request) ([]Appointment, error)
	Consultations(ctx context.Context, req Request) ([]Consultation, error)
	Payments(ctx context.Context, req Request) ([]Payment, error)
	ChatMessages(ctx context.Context, req Request) ([]ChatMessage, error)
	SendChatMessage(ctx context.Context, req Request, body string) (*ChatMessage, error)
}
