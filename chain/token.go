package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MintReceipt describes a successful certificate mint
type MintReceipt struct {
	TxHash      common.Hash
	TokenID     *big.Int
	Recipient   common.Address
	BlockNumber uint64
}

// Token is a gateway to the certificate token contract
type Token struct {
	address  common.Address
	contract *bind.BoundContract
	backend  Backend
	wallet   Wallet
}

// NewToken binds the certificate token at address. The wallet is only needed
// for SignMint and may be nil.
func NewToken(address common.Address, backend Backend, wallet Wallet) *Token {
	return &Token{
		address:  address,
		contract: bind.NewBoundContract(address, tokenABI, backend, backend, backend),
		backend:  backend,
		wallet:   wallet,
	}
}

// Address returns the contract address
func (t *Token) Address() common.Address {
	return t.address
}

// MintPrice returns the current price of a mint in wei
func (t *Token) MintPrice(ctx context.Context) (*big.Int, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "mintPrice"); err != nil {
		return nil, errors.Wrap(classify(err), "could not query mint price")
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// TokenURI returns the metadata uri of a minted token
func (t *Token) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenURI", tokenID); err != nil {
		return "", errors.Wrap(classify(err), "could not query token uri")
	}
	uri, _ := out[0].(string)
	return uri, nil
}

// SignMint builds and signs a mint of a token with metadata uri to the
// recipient, paying value. The transaction is not sent; its hash is final and
// can be stored before Send.
func (t *Token) SignMint(ctx context.Context, to common.Address, uri string, value *big.Int) (
	*types.Transaction, error,
) {
	if t.wallet == nil {
		return nil, ErrWalletUnavailable
	}
	opts, err := t.wallet.Signer(ctx, "safeMint to "+to.Hex())
	if err != nil {
		return nil, err
	}
	if value != nil {
		opts.Value = new(big.Int).Set(value)
	}
	opts.NoSend = true
	tx, err := t.contract.Transact(opts, "safeMint", to, uri)
	if err != nil {
		return nil, errors.Wrap(classify(err), "could not sign mint")
	}
	return tx, nil
}

// Send broadcasts a transaction returned by SignMint. It does not wait for the
// transaction to be mined.
func (t *Token) Send(ctx context.Context, tx *types.Transaction) error {
	if err := t.backend.SendTransaction(ctx, tx); err != nil {
		return errors.Wrap(classify(err), "could not submit mint")
	}
	log.WithFields(
		log.Fields{
			"tx_hash": tx.Hash().Hex(),
			"value":   tx.Value().String(),
		},
	).Info("mint transaction submitted")
	return nil
}

// WaitMined waits until tx is mined and returns the resulting mint
func (t *Token) WaitMined(ctx context.Context, tx *types.Transaction) (*MintReceipt, error) {
	receipt, err := waitMined(ctx, t.backend, tx)
	if err != nil {
		return nil, err
	}
	return t.mintFromReceipt(receipt)
}

// Receipt waits for the receipt of txHash and extracts the mint from it.
// Hashes the node does not know return ErrUnknownTransaction, reverted
// transactions return ErrTransactionReverted and receipts without a mint of
// this token return ErrNotMinted.
func (t *Token) Receipt(ctx context.Context, txHash common.Hash) (*MintReceipt, error) {
	receipt, err := waitMinedHash(ctx, t.backend, txHash)
	if err != nil {
		return nil, err
	}
	return t.mintFromReceipt(receipt)
}

func (t *Token) mintFromReceipt(receipt *types.Receipt) (*MintReceipt, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.Wrapf(ErrTransactionReverted, "transaction %s", receipt.TxHash.Hex())
	}
	transfer := tokenABI.Events["Transfer"].ID
	for _, l := range receipt.Logs {
		if l.Address != t.address || len(l.Topics) != 4 || l.Topics[0] != transfer {
			continue
		}
		if common.BytesToAddress(l.Topics[1].Bytes()) != (common.Address{}) {
			// not a mint
			continue
		}
		mint := &MintReceipt{
			TxHash:    receipt.TxHash,
			TokenID:   new(big.Int).SetBytes(l.Topics[3].Bytes()),
			Recipient: common.BytesToAddress(l.Topics[2].Bytes()),
		}
		if receipt.BlockNumber != nil {
			mint.BlockNumber = receipt.BlockNumber.Uint64()
		}
		return mint, nil
	}
	return nil, errors.Wrapf(ErrNotMinted, "transaction %s", receipt.TxHash.Hex())
}
