package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Backend is what the contract gateways need from a JSON-RPC node
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
}

// Dial connects to the JSON-RPC endpoint at rpcURL. If chainID is not nil the
// chain id reported by the node must match.
func Dial(ctx context.Context, rpcURL string, chainID *big.Int) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", rpcURL)
	}
	if chainID == nil {
		return client, nil
	}
	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "could not query chain id")
	}
	if remote.Cmp(chainID) != 0 {
		client.Close()
		return nil, errors.Errorf("node at %s serves chain %s, expected %s", rpcURL, remote, chainID)
	}
	log.WithFields(
		log.Fields{
			"rpc":      rpcURL,
			"chain_id": chainID.String(),
		},
	).Info("connected to chain")
	return client, nil
}

// waitMined waits until tx is mined or ctx is done
func waitMined(ctx context.Context, backend Backend, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return receipt, nil
}

// waitMinedHash looks up the transaction txHash and waits until it is mined
func waitMinedHash(ctx context.Context, backend Backend, txHash common.Hash) (*types.Receipt, error) {
	tx, _, err := backend.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrapf(ErrUnknownTransaction, "%s", txHash.Hex())
		}
		return nil, errors.Wrapf(err, "could not look up transaction %s", txHash.Hex())
	}
	return waitMined(ctx, backend, tx)
}
