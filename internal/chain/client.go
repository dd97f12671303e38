package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrInvalidSignature = errors.New("signature does not match address")
	ErrInvalidRawTx     = errors.New("malformed signed transaction")
)

// Backend is the node RPC subset the client uses; ethclient.Client
// satisfies it and tests stub it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type Client struct {
	backend  Backend
	contract common.Address
}

func Dial(rpcURL, contractAddress string) (*Client, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	backend, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return NewClient(backend, common.HexToAddress(contractAddress)), nil
}

func NewClient(backend Backend, contract common.Address) *Client {
	return &Client{backend: backend, contract: contract}
}

func (c *Client) Contract() common.Address {
	return c.contract
}

// BalanceOf reads a wallet's on-chain savings balance, in the token's
// smallest unit. Display only; the custodial projection is fed by events.
func (c *Client) BalanceOf(ctx context.Context, wallet common.Address) (*big.Int, error) {
	input, err := contractABI.Pack("balanceOf", wallet)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	results, err := contractABI.Unpack("balanceOf", output)
	if err != nil || len(results) != 1 {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}
	return balance, nil
}

// SubmitSigned broadcasts a transaction the client signed. The backend never
// sees private keys; it only relays and records the resulting hash.
func (c *Client) SubmitSigned(ctx context.Context, rawTxHex string) (string, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(rawTxHex))
	if err != nil {
		return "", ErrInvalidRawTx
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", ErrInvalidRawTx
	}
	if err := c.backend.SendTransaction(ctx, &tx); err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	return strings.ToLower(tx.Hash().Hex()), nil
}

// VerifyAddressSignature checks an EIP-191 personal-sign signature over
// message against the claimed address. Wallet binding requires this proof of
// ownership before an address joins a user.
func VerifyAddressSignature(address, message, signatureHex string) error {
	if !common.IsHexAddress(address) {
		return ErrInvalidSignature
	}
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != 65 {
		return ErrInvalidSignature
	}
	// Wallets emit V as 27/28; go-ethereum expects 0/1.
	recovery := make([]byte, 65)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := crypto.Keccak256([]byte(prefixed))
	pubKey, err := crypto.SigToPub(digest, recovery)
	if err != nil {
		return ErrInvalidSignature
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if !strings.EqualFold(recovered.Hex(), address) {
		return ErrInvalidSignature
	}
	return nil
}
