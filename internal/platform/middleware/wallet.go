package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"certifychain/internal/ledger"
	dErrors "certifychain/pkg/domain-errors"
	"certifychain/pkg/platform/httputil"
	"certifychain/pkg/requestcontext"
)

// Wallet auth is stateless: every request carries the address, a unix
// timestamp, and an EIP-191 personal signature over AuthMessage(timestamp).
// There is no session to revoke; the ledger registration check runs on the
// request itself.
const (
	headerWalletAddress   = "X-Wallet-Address"
	headerWalletSignature = "X-Wallet-Signature"
	headerWalletTimestamp = "X-Wallet-Timestamp"

	// signatureWindow bounds replay of a captured signature.
	signatureWindow = 5 * time.Minute
)

// AuthMessage is the exact text a wallet signs for the given unix timestamp.
func AuthMessage(unixSeconds int64) string {
	return fmt.Sprintf("certifychain-auth:%d", unixSeconds)
}

// InstitutionRegistry is the slice of the ledger client the wallet middleware
// needs for the per-request registration check.
type InstitutionRegistry interface {
	InstitutionDetails(ctx context.Context, addr common.Address) (*ledger.Institution, error)
}

// WalletAuthenticator verifies wallet signature headers and, unless skipped,
// checks ledger registration.
type WalletAuthenticator struct {
	registry InstitutionRegistry
	logger   *slog.Logger
	now      func() time.Time
}

func NewWalletAuthenticator(registry InstitutionRegistry, logger *slog.Logger) *WalletAuthenticator {
	return &WalletAuthenticator{registry: registry, logger: logger, now: time.Now}
}

// RequireWallet authenticates the signature and requires the address to be a
// registered institution on the ledger.
func (a *WalletAuthenticator) RequireWallet(next http.Handler) http.Handler {
	return a.middleware(next, true)
}

// RequireWalletSignature authenticates the signature only. Used by the
// registration endpoint, where the caller is by definition not yet
// registered.
func (a *WalletAuthenticator) RequireWalletSignature(next http.Handler) http.Handler {
	return a.middleware(next, false)
}

func (a *WalletAuthenticator) middleware(next http.Handler, checkRegistration bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		addr, err := a.authenticate(r)
		if err != nil {
			a.logger.WarnContext(ctx, "wallet authentication failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, err)
			return
		}

		if checkRegistration {
			inst, err := a.registry.InstitutionDetails(ctx, addr)
			if err != nil {
				a.logger.ErrorContext(ctx, "registration check failed",
					"error", err,
					"address", addr.Hex(),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "registry unavailable"))
				return
			}
			if !inst.Registered {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "wallet is not a registered institution"))
				return
			}
		}

		ctx = requestcontext.WithWalletAddress(ctx, addr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *WalletAuthenticator) authenticate(r *http.Request) (common.Address, error) {
	addrHex := r.Header.Get(headerWalletAddress)
	sigHex := r.Header.Get(headerWalletSignature)
	tsRaw := r.Header.Get(headerWalletTimestamp)
	if addrHex == "" || sigHex == "" || tsRaw == "" {
		return common.Address{}, dErrors.New(dErrors.CodeUnauthenticated, "missing wallet authentication headers")
	}
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidCredential, "malformed wallet address")
	}
	claimed := common.HexToAddress(addrHex)

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidCredential, "malformed signature timestamp")
	}
	if d := a.now().Sub(time.Unix(ts, 0)); d > signatureWindow || d < -signatureWindow {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidCredential, "signature timestamp outside accepted window")
	}

	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidCredential, "malformed signature")
	}
	// Wallets produce V as 27/28; SigToPub expects 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(AuthMessage(ts)))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidCredential, "signature recovery failed")
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != claimed {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidCredential, "signature does not match wallet address")
	}
	return claimed, nil
}
