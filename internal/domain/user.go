package domain

import "time"

// User represents an authenticated account within the platform. Credits is
// the spendable balance; it is mutated only through the credit ledger.
type User struct {
	ID        string
	Email     string
	Name      string
	Locale    string
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreditEntry is one row in the append-only credit ledger. Debits carry a
// negative Delta and reference the job they paid for; the JobID uniqueness
// constraint makes a debit exactly-once per job.
type CreditEntry struct {
	ID        string
	UserID    string
	JobID     string
	Delta     int
	Reason    string
	CreatedAt time.Time
}
