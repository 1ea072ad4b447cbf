package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tag is a registered username bound to a wallet address. The credential
// hash is written once at registration and must never be serialized.
type Tag struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	WalletAddress  string    `json:"walletAddress"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Receipt is an immutable proof record between two tags. Signature and memo
// are opaque to the server and stored verbatim.
type Receipt struct {
	ID           string          `json:"id"`
	Signature    string          `json:"signature"`
	Memo         string          `json:"memo"`
	FromTagID    string          `json:"-"`
	ToTagID      string          `json:"-"`
	FromUsername string          `json:"fromTag"`
	ToUsername   string          `json:"toTag"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Credential pairs a tag id with its stored secret hash for resolution scans.
// It carries no other tag fields so scan results cannot leak anything else.
type Credential struct {
	TagID string
	Hash  string
}
