package customer

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("customer: not found")

type Customer struct {
	ID         string
	Email      string
	FirstName  string
	LastName   string
	FullName   string
	Phone      string
	OrderCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NormalizeEmail is the key customers are matched on.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SplitName splits on the first space: "Mary Ann Smith" -> "Mary", "Ann Smith".
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	first, last, _ = strings.Cut(full, " ")
	return first, strings.TrimSpace(last)
}

func New(id, email, fullName, phone string) *Customer {
	now := time.Now().UTC()
	first, last := SplitName(fullName)
	return &Customer{
		ID:        id,
		Email:     NormalizeEmail(email),
		FirstName: first,
		LastName:  last,
		FullName:  strings.TrimSpace(fullName),
		Phone:     strings.TrimSpace(phone),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Refresh applies the contact details from a newer checkout.
func (c *Customer) Refresh(fullName, phone string) {
	if name := strings.TrimSpace(fullName); name != "" {
		c.FullName = name
		c.FirstName, c.LastName = SplitName(name)
	}
	if p := strings.TrimSpace(phone); p != "" {
		c.Phone = p
	}
	c.UpdatedAt = time.Now().UTC()
}

type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Customer, error)
	// Upsert inserts or updates by email and bumps OrderCount; it returns the stored record.
	Upsert(ctx context.Context, c *Customer) (*Customer, error)
}
