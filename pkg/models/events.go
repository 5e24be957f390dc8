package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event.
type EventType string

const (
	EventInstallmentSettled EventType = "installment.settled"
	EventLoanPaidOff        EventType = "loan.paid_off"
)

// DomainEvent is the payload published for downstream consumers.
type DomainEvent struct {
	Type          EventType  `json:"type"`
	LoanID        uuid.UUID  `json:"loan_id"`
	InstallmentID *uuid.UUID `json:"installment_id,omitempty"`
	CustomerKey   string     `json:"customer_key"`
	Status        string     `json:"status"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// OutboxMessage is a domain event waiting to be published. It is written in the
// same transaction as the ledger change that produced it.
type OutboxMessage struct {
	ID          uuid.UUID  `json:"id"`
	Key         string     `json:"key"`
	EventType   EventType  `json:"event_type"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}
