// Package evm implements ledger.Client against the CertifyChain contract over
// JSON-RPC. Writes are signed with the server-held key and block until the
// transaction is mined; deterministic revert reasons are mapped onto the
// ledger error taxonomy and transport failures onto ledger.ErrUnavailable.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"certifychain/internal/ledger"
)

const contractABI = `[
  {"type":"function","name":"registerInstitution","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"email","type":"string"}],"outputs":[]},
  {"type":"function","name":"issueCertificate","stateMutability":"nonpayable","inputs":[{"name":"certificateId","type":"string"},{"name":"studentName","type":"string"},{"name":"courseName","type":"string"}],"outputs":[]},
  {"type":"function","name":"revokeCertificate","stateMutability":"nonpayable","inputs":[{"name":"certificateId","type":"string"}],"outputs":[]},
  {"type":"function","name":"verifyCertificate","stateMutability":"view","inputs":[{"name":"certificateId","type":"string"}],"outputs":[{"name":"studentName","type":"string"},{"name":"courseName","type":"string"},{"name":"issueDate","type":"uint256"},{"name":"issuerAddress","type":"address"},{"name":"institutionName","type":"string"},{"name":"isValid","type":"bool"}]},
  {"type":"function","name":"getInstitutionDetails","stateMutability":"view","inputs":[{"name":"institution","type":"address"}],"outputs":[{"name":"name","type":"string"},{"name":"email","type":"string"},{"name":"isRegistered","type":"bool"}]},
  {"type":"function","name":"getInstitutionCertificatesCount","stateMutability":"view","inputs":[{"name":"institution","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getInstitutionCertificateByIndex","stateMutability":"view","inputs":[{"name":"institution","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"string"}]}
]`

// Revert reasons emitted by the deployed contract.
var revertErrors = map[string]error{
	"Institution already registered":            ledger.ErrAlreadyRegistered,
	"Institution not registered":                ledger.ErrNotRegistered,
	"Certificate ID already exists":             ledger.ErrDuplicateID,
	"Certificate does not exist":                ledger.ErrNotFound,
	"Not authorized to revoke this certificate": ledger.ErrNotAuthorized,
	"Certificate already revoked":               ledger.ErrAlreadyRevoked,
}

// Client talks to the deployed CertifyChain contract.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	signer   *ecdsa.PrivateKey
	signerAt common.Address
	chainID  *big.Int
	timeout  time.Duration
}

// Config carries the chain connection parameters from the environment.
type Config struct {
	RPCEndpoint     string
	ContractAddress common.Address
	SignerKeyHex    string
	CallTimeout     time.Duration
}

// Dial connects to the RPC endpoint and binds the contract.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKeyHex, "0x"))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		eth:      eth,
		contract: bind.NewBoundContract(cfg.ContractAddress, parsed, eth, eth, eth),
		signer:   key,
		signerAt: crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		timeout:  timeout,
	}, nil
}

// SignerAddress is the address write transactions are sent from.
func (c *Client) SignerAddress() common.Address { return c.signerAt }

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// mapError classifies a contract/transport error. Known revert reasons become
// deterministic ledger errors; everything else is a connectivity failure.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for reason, mapped := range revertErrors {
		if strings.Contains(msg, reason) {
			return mapped
		}
	}
	return fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
}

// transact submits a state-changing call and blocks until it is mined. The
// caller must match the configured signer: server-initiated writes are the
// only write path this client supports.
func (c *Client) transact(ctx context.Context, caller common.Address, method string, args ...any) (*ledger.TxReceipt, error) {
	if caller != c.signerAt {
		return nil, fmt.Errorf("%w: caller %s does not match configured signer %s",
			ledger.ErrNotAuthorized, caller.Hex(), c.signerAt.Hex())
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts, err := bind.NewKeyedTransactorWithChainID(c.signer, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, mapError(err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, mapError(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		// Mined but reverted; replay the call to surface the reason.
		if _, replayErr := c.eth.CallContract(ctx, callMsgFromTx(c.signerAt, tx), receipt.BlockNumber); replayErr != nil {
			return nil, mapError(replayErr)
		}
		return nil, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return &ledger.TxReceipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

func (c *Client) call(ctx context.Context, out *[]any, method string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.contract.Call(&bind.CallOpts{Context: ctx}, out, method, args...)
}

func (c *Client) RegisterInstitution(ctx context.Context, caller common.Address, name, email string) (*ledger.TxReceipt, error) {
	return c.transact(ctx, caller, "registerInstitution", name, email)
}

func (c *Client) IssueCertificate(ctx context.Context, caller common.Address, id, studentName, courseName string) (*ledger.TxReceipt, error) {
	return c.transact(ctx, caller, "issueCertificate", id, studentName, courseName)
}

func (c *Client) RevokeCertificate(ctx context.Context, caller common.Address, id string) (*ledger.TxReceipt, error) {
	return c.transact(ctx, caller, "revokeCertificate", id)
}

func (c *Client) VerifyCertificate(ctx context.Context, id string) (*ledger.Certificate, error) {
	var out []any
	if err := c.call(ctx, &out, "verifyCertificate", id); err != nil {
		return nil, mapError(err)
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("verifyCertificate: unexpected output arity %d", len(out))
	}
	issuedAt := out[2].(*big.Int)
	return &ledger.Certificate{
		StudentName:     out[0].(string),
		CourseName:      out[1].(string),
		IssueDate:       time.Unix(issuedAt.Int64(), 0).UTC(),
		IssuerAddress:   out[3].(common.Address),
		InstitutionName: out[4].(string),
		IsValid:         out[5].(bool),
	}, nil
}

func (c *Client) InstitutionDetails(ctx context.Context, addr common.Address) (*ledger.Institution, error) {
	var out []any
	if err := c.call(ctx, &out, "getInstitutionDetails", addr); err != nil {
		return nil, mapError(err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("getInstitutionDetails: unexpected output arity %d", len(out))
	}
	return &ledger.Institution{
		Name:       out[0].(string),
		Email:      out[1].(string),
		Registered: out[2].(bool),
	}, nil
}

func (c *Client) CertificateCount(ctx context.Context, addr common.Address) (int, error) {
	var out []any
	if err := c.call(ctx, &out, "getInstitutionCertificatesCount", addr); err != nil {
		return 0, mapError(err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("getInstitutionCertificatesCount: unexpected output arity %d", len(out))
	}
	return int(out[0].(*big.Int).Int64()), nil
}

func (c *Client) CertificateAt(ctx context.Context, addr common.Address, index int) (string, error) {
	var out []any
	if err := c.call(ctx, &out, "getInstitutionCertificateByIndex", addr, big.NewInt(int64(index))); err != nil {
		return "", mapError(err)
	}
	if len(out) != 1 {
		return "", fmt.Errorf("getInstitutionCertificateByIndex: unexpected output arity %d", len(out))
	}
	return out[0].(string), nil
}

func callMsgFromTx(from common.Address, tx *types.Transaction) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Data:  tx.Data(),
		Value: tx.Value(),
		Gas:   tx.Gas(),
	}
}

var _ ledger.Client = (*Client)(nil)
