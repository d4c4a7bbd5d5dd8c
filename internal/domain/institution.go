package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Institution mirrors a registered issuer. The wallet address is the on-chain
// identity and is immutable; name and email here are the off-chain,
// display-only copies and may drift from the ledger registration.
type Institution struct {
	ID        uuid.UUID      `json:"id"`
	Address   common.Address `json:"address"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	CreatedAt time.Time      `json:"created_at"`
}

// Student is created lazily on first issuance referencing its email and is
// never deleted. Name may be refreshed by later issuances for the same email.
type Student struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
