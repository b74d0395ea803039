package chain

import (
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// RecoverPersonalSign returns the address that produced the EIP-191
// personal_sign signature over message
func RecoverPersonalSign(message string, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "invalid signature encoding")
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Errorf("invalid signature length %d", len(sig))
	}
	// wallets produce v in {27, 28}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "could not recover signer")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignPersonal produces an EIP-191 personal_sign signature with v in {27, 28}
func (w *KeyWallet) SignPersonal(message string) (string, error) {
	w.mu.RLock()
	key := w.key
	w.mu.RUnlock()
	if key == nil {
		return "", ErrWalletUnavailable
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", errors.WithStack(err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// ParseAddress validates a hex address
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("invalid address '%s'", s)
	}
	return common.HexToAddress(s), nil
}
