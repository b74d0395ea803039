package config

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/duration"
	"github.com/zachmann/go-utils/fileutils"

	"github.com/certifychain/certifychain/chain"
)

// Defaults of the Somnia Shannon testnet
const (
	DefaultChainID = 50312
	DefaultRPCURL  = "https://dream-rpc.somnia.network"
)

// chainConf configures the blockchain connection and the service wallet.
// The wallet is either a hex private key or an encrypted keystore file.
//
//	chain:
//	  rpc_url: https://dream-rpc.somnia.network
//	  chain_id: 50312
//	  role_registry: 0x...
//	  token: 0x...
//	  write_timeout: 2m
//	  wallet:
//	    keystore: /etc/certifychain/wallet.json
type chainConf struct {
	RPCURL       string                  `yaml:"rpc_url"`
	ChainID      int64                   `yaml:"chain_id"`
	RoleRegistry string                  `yaml:"role_registry"`
	Token        string                  `yaml:"token"`
	WriteTimeout duration.DurationOption `yaml:"write_timeout"`
	Wallet       walletConf              `yaml:"wallet"`

	roleRegistry common.Address
	token        common.Address
}

type walletConf struct {
	PrivateKey string `yaml:"private_key"`
	Keystore   string `yaml:"keystore"`
	Passphrase string `yaml:"passphrase"`
}

func (c *chainConf) validate() error {
	if c.RPCURL == "" {
		return errors.New("error in chain conf: rpc_url must be specified")
	}
	if c.ChainID <= 0 {
		return errors.New("error in chain conf: chain_id must be positive")
	}
	var err error
	if c.roleRegistry, err = chain.ParseAddress(c.RoleRegistry); err != nil {
		return errors.Wrap(err, "error in chain conf: role_registry")
	}
	if c.token, err = chain.ParseAddress(c.Token); err != nil {
		return errors.Wrap(err, "error in chain conf: token")
	}
	w := c.Wallet
	switch {
	case w.PrivateKey != "" && w.Keystore != "":
		return errors.New("error in chain conf: only one of wallet.private_key and wallet.keystore can be used")
	case w.PrivateKey == "" && w.Keystore == "":
		return errors.New("error in chain conf: wallet.private_key or wallet.keystore must be specified")
	case w.Keystore != "" && !fileutils.FileExists(w.Keystore):
		return errors.Errorf("error in chain conf: keystore file '%s' does not exist", w.Keystore)
	}
	return nil
}

// ChainIDInt returns the chain id
func (c chainConf) ChainIDInt() *big.Int {
	return big.NewInt(c.ChainID)
}

// RoleRegistryAddress returns the validated address of the role registry
func (c chainConf) RoleRegistryAddress() common.Address {
	return c.roleRegistry
}

// TokenAddress returns the validated address of the certificate token
func (c chainConf) TokenAddress() common.Address {
	return c.token
}

// LoadWallet opens the configured service wallet
func (c chainConf) LoadWallet(approver chain.Approver) (*chain.KeyWallet, error) {
	if c.Wallet.Keystore != "" {
		return chain.KeyWalletFromKeystore(c.Wallet.Keystore, c.Wallet.Passphrase, c.ChainIDInt(), approver)
	}
	return chain.KeyWalletFromHex(c.Wallet.PrivateKey, c.ChainIDInt(), approver)
}

var defaultChainConf = chainConf{
	RPCURL:       DefaultRPCURL,
	ChainID:      DefaultChainID,
	WriteTimeout: duration.DurationOption(2 * time.Minute),
}
