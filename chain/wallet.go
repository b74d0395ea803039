package chain

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Wallet is the signing identity used for all state-changing contract calls
type Wallet interface {
	// CurrentAddress returns the address of the loaded key; the bool is false
	// if no key is loaded
	CurrentAddress() (common.Address, bool)
	// Signer returns transact options for one transaction described by action.
	// It fails with ErrWalletUnavailable if no key is loaded and with
	// ErrUserRejected if the holder declines.
	Signer(ctx context.Context, action string) (*bind.TransactOpts, error)
	// Disconnected returns a channel that is closed once the wallet has been
	// disconnected
	Disconnected() <-chan struct{}
}

// Approver decides whether a transaction may be signed
type Approver interface {
	Approve(ctx context.Context, from common.Address, action string) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface
type ApproverFunc func(ctx context.Context, from common.Address, action string) (bool, error)

// Approve implements Approver
func (f ApproverFunc) Approve(ctx context.Context, from common.Address, action string) (bool, error) {
	return f(ctx, from, action)
}

// AutoApprove approves everything; it is used when running as a service
var AutoApprove Approver = ApproverFunc(
	func(context.Context, common.Address, string) (bool, error) {
		return true, nil
	},
)

// PromptApprover asks on a terminal before each transaction
type PromptApprover struct {
	In  io.Reader
	Out io.Writer

	mu sync.Mutex
	r  *bufio.Reader
}

// NewPromptApprover returns a PromptApprover reading from stdin
func NewPromptApprover() *PromptApprover {
	return &PromptApprover{
		In:  os.Stdin,
		Out: os.Stderr,
	}
}

// Approve implements Approver
func (p *PromptApprover) Approve(_ context.Context, from common.Address, action string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	if _, err := fmt.Fprintf(p.Out, "Sign '%s' with %s? [y/N] ", action, from.Hex()); err != nil {
		return false, err
	}
	line, err := p.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// KeyWallet is a Wallet backed by an in-memory private key
type KeyWallet struct {
	chainID  *big.Int
	approver Approver

	mu           sync.RWMutex
	key          *ecdsa.PrivateKey
	address      common.Address
	disconnected chan struct{}
}

// NewKeyWallet creates a KeyWallet; a nil approver approves all transactions
func NewKeyWallet(key *ecdsa.PrivateKey, chainID *big.Int, approver Approver) *KeyWallet {
	if approver == nil {
		approver = AutoApprove
	}
	w := &KeyWallet{
		chainID:      chainID,
		approver:     approver,
		key:          key,
		disconnected: make(chan struct{}),
	}
	if key == nil {
		close(w.disconnected)
		return w
	}
	w.address = crypto.PubkeyToAddress(key.PublicKey)
	return w
}

// KeyWalletFromHex creates a KeyWallet from a hex encoded private key
func KeyWalletFromHex(hexKey string, chainID *big.Int, approver Approver) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}
	return NewKeyWallet(key, chainID, approver), nil
}

// KeyWalletFromKeystore creates a KeyWallet from an encrypted keystore file
func KeyWalletFromKeystore(path, passphrase string, chainID *big.Int, approver Approver) (*KeyWallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read keystore file")
	}
	k, err := keystore.DecryptKey(data, passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "could not decrypt keystore file")
	}
	return NewKeyWallet(k.PrivateKey, chainID, approver), nil
}

// CurrentAddress implements Wallet
func (w *KeyWallet) CurrentAddress() (common.Address, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.address, w.key != nil
}

// Signer implements Wallet
func (w *KeyWallet) Signer(ctx context.Context, action string) (*bind.TransactOpts, error) {
	w.mu.RLock()
	key, from := w.key, w.address
	w.mu.RUnlock()
	if key == nil {
		return nil, ErrWalletUnavailable
	}
	ok, err := w.approver.Approve(ctx, from, action)
	if err != nil {
		return nil, errors.Wrap(err, "approval failed")
	}
	if !ok {
		log.WithField("action", action).Info("transaction rejected by wallet holder")
		return nil, ErrUserRejected
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, w.chainID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	opts.Context = ctx
	return opts, nil
}

// Disconnected implements Wallet
func (w *KeyWallet) Disconnected() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.disconnected
}

// Disconnect drops the key. All later Signer calls fail with
// ErrWalletUnavailable.
func (w *KeyWallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key == nil {
		return
	}
	w.key = nil
	close(w.disconnected)
}
