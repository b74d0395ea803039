package chain

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrWalletUnavailable is returned when no signing key is loaded or the
	// wallet was disconnected
	ErrWalletUnavailable = errors.New("wallet not connected")
	// ErrUserRejected is returned when the wallet holder declined to sign
	ErrUserRejected = errors.New("transaction rejected by user")
	// ErrTransactionReverted is returned when a transaction was reverted, either
	// during gas estimation or after it was mined
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrNotMinted is returned when a receipt does not contain the expected mint
	ErrNotMinted = errors.New("transaction did not mint a certificate")
	// ErrUnknownTransaction is returned when the node does not know a
	// transaction hash
	ErrUnknownTransaction = errors.New("unknown transaction")
)

// classify maps error texts of nodes and external signers to the sentinel
// errors of this package. Errors that do not match are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUserRejected) || errors.Is(err, ErrWalletUnavailable) ||
		errors.Is(err, ErrTransactionReverted) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "action_rejected"), strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "user denied"):
		return errors.Wrap(ErrUserRejected, err.Error())
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "insufficient funds"):
		return errors.Wrap(ErrTransactionReverted, err.Error())
	}
	return err
}
