package evm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certifychain/internal/ledger"
)

func TestTransactRejectsForeignCaller(t *testing.T) {
	// transact validates the caller before touching the connection, so a
	// client without one is enough here.
	c := &Client{signerAt: common.HexToAddress("0x1111111111111111111111111111111111111111")}

	_, err := c.transact(context.Background(), common.HexToAddress("0x2222222222222222222222222222222222222222"), "revokeCertificate", "CERT-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNotAuthorized)
}

func TestMapErrorClassifiesRevertReasons(t *testing.T) {
	for reason, want := range revertErrors {
		got := mapError(fmt.Errorf("execution reverted: %s", reason))
		assert.ErrorIs(t, got, want, reason)
	}
}

func TestMapErrorDefaultsToUnavailable(t *testing.T) {
	got := mapError(errors.New("connection refused"))
	assert.ErrorIs(t, got, ledger.ErrUnavailable)
	assert.NoError(t, mapError(nil))
}
