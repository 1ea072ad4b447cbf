package store

import (
	"context"
	"errors"

	"github.com/agentpay/tagbook/internal/model"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateUsername = errors.New("username already taken")
	ErrInvalidCursor     = errors.New("invalid cursor")
)

// ReceiptListOpts controls party-scoped receipt listing. Cursor is the id of
// the last receipt from a previous page; results start strictly after it.
type ReceiptListOpts struct {
	Limit  int
	Cursor string
}

type Store interface {
	TagStore
	ReceiptStore
	Ping(ctx context.Context) error
	Close() error
}

type TagStore interface {
	// CreateTag persists a new tag. Username uniqueness is enforced by the
	// store, not by the caller; duplicates return ErrDuplicateUsername.
	CreateTag(ctx context.Context, tag *model.Tag) error
	GetTagByID(ctx context.Context, id string) (model.Tag, error)
	GetTagByUsername(ctx context.Context, username string) (model.Tag, error)
	UpdateWalletAddress(ctx context.Context, tagID, walletAddress string) error
	// ListCredentials returns every stored (tag id, credential hash) pair.
	ListCredentials(ctx context.Context) ([]model.Credential, error)
}

type ReceiptStore interface {
	CreateReceipt(ctx context.Context, receipt *model.Receipt) error
	GetReceipt(ctx context.Context, id string) (model.Receipt, error)
	// ListReceiptsByTag returns receipts where the tag is either party,
	// ordered by created_at descending with id as tiebreaker. The returned
	// cursor is empty when no further results remain.
	ListReceiptsByTag(ctx context.Context, tagID string, opts ReceiptListOpts) ([]model.Receipt, string, error)
}
