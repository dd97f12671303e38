package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type stubBackend struct {
	blockNumberFn func(ctx context.Context) (uint64, error)
	filterLogsFn  func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	callFn        func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	sendFn        func(ctx context.Context, tx *types.Transaction) error
}

func (s stubBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if s.blockNumberFn == nil {
		return 0, nil
	}
	return s.blockNumberFn(ctx)
}

func (s stubBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if s.filterLogsFn == nil {
		return nil, nil
	}
	return s.filterLogsFn(ctx, q)
}

func (s stubBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if s.callFn == nil {
		return nil, nil
	}
	return s.callFn(ctx, msg, blockNumber)
}

func (s stubBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if s.sendFn == nil {
		return nil
	}
	return s.sendFn(ctx, tx)
}

func TestBalanceOf(t *testing.T) {
	contract := common.HexToAddress("0x0000000000000000000000000000000000000c0c")
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	client := NewClient(stubBackend{
		callFn: func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			if msg.To == nil || *msg.To != contract {
				t.Fatalf("unexpected call target: %v", msg.To)
			}
			return common.LeftPadBytes(big.NewInt(123456).Bytes(), 32), nil
		},
	}, contract)
	balance, err := client.BalanceOf(context.Background(), wallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance.Int64() != 123456 {
		t.Fatalf("unexpected balance: %s", balance)
	}
}

func TestSubmitSignedBroadcasts(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	to := common.HexToAddress("0x0000000000000000000000000000000000000c0c")
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
	signed, err := types.SignTx(unsigned, types.NewEIP155Signer(big.NewInt(1)), key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal tx: %v", err)
	}

	var broadcast *types.Transaction
	client := NewClient(stubBackend{
		sendFn: func(_ context.Context, tx *types.Transaction) error {
			broadcast = tx
			return nil
		},
	}, to)
	hash, err := client.SubmitSigned(context.Background(), hexutil.Encode(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if broadcast == nil {
		t.Fatalf("expected transaction to be broadcast")
	}
	if hash != strings.ToLower(signed.Hash().Hex()) {
		t.Fatalf("unexpected hash: %s", hash)
	}
}

func TestSubmitSignedRejectsGarbage(t *testing.T) {
	client := NewClient(stubBackend{}, common.Address{})
	if _, err := client.SubmitSigned(context.Background(), "not-hex"); !errors.Is(err, ErrInvalidRawTx) {
		t.Fatalf("expected ErrInvalidRawTx, got %v", err)
	}
	if _, err := client.SubmitSigned(context.Background(), "0x0102"); !errors.Is(err, ErrInvalidRawTx) {
		t.Fatalf("expected ErrInvalidRawTx for invalid rlp, got %v", err)
	}
}

func TestVerifyAddressSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	message := "akiba-bind:user-1:nonce-42"
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	digest := crypto.Keccak256([]byte(prefixed))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Present the signature the way wallets do, with V offset by 27.
	sig[64] += 27

	if err := VerifyAddressSignature(address, message, hexutil.Encode(sig)); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
	if err := VerifyAddressSignature(address, "different message", hexutil.Encode(sig)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected mismatch on altered message, got %v", err)
	}
	other := common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex()
	if err := VerifyAddressSignature(other, message, hexutil.Encode(sig)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected mismatch on wrong address, got %v", err)
	}
}
