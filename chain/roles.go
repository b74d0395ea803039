package chain

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/storage/model"
)

// RoleRegistry is a gateway to the on-chain role registry contract
type RoleRegistry struct {
	address  common.Address
	contract *bind.BoundContract
	backend  Backend
	wallet   Wallet
}

// NewRoleRegistry binds the role registry at address. The wallet is only
// needed for write operations and may be nil.
func NewRoleRegistry(address common.Address, backend Backend, wallet Wallet) *RoleRegistry {
	return &RoleRegistry{
		address:  address,
		contract: bind.NewBoundContract(address, roleRegistryABI, backend, backend, backend),
		backend:  backend,
		wallet:   wallet,
	}
}

// Address returns the contract address
func (r *RoleRegistry) Address() common.Address {
	return r.address
}

// Admin returns the address of the registry admin
func (r *RoleRegistry) Admin(ctx context.Context) (common.Address, error) {
	var out []any
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "admin"); err != nil {
		return common.Address{}, errors.Wrap(classify(err), "could not query registry admin")
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// CheckRole returns the on-chain role of addr
func (r *RoleRegistry) CheckRole(ctx context.Context, addr common.Address) (model.Role, error) {
	var out []any
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "checkRole", addr); err != nil {
		return model.RoleNone, errors.Wrap(classify(err), "could not query role")
	}
	tag, _ := out[0].(string)
	role := parseOnChainRole(tag)
	if role != model.RoleNone {
		return role, nil
	}
	admin, err := r.Admin(ctx)
	if err != nil {
		return model.RoleNone, err
	}
	if admin == addr {
		return model.RoleAdmin, nil
	}
	return model.RoleNone, nil
}

// Directors returns all addresses holding the director role
func (r *RoleRegistry) Directors(ctx context.Context) ([]common.Address, error) {
	return r.addresses(ctx, "getAllDirectors")
}

// Students returns all addresses holding the student role
func (r *RoleRegistry) Students(ctx context.Context) ([]common.Address, error) {
	return r.addresses(ctx, "getAllStudents")
}

func (r *RoleRegistry) addresses(ctx context.Context, method string) ([]common.Address, error) {
	var out []any
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, errors.Wrapf(classify(err), "could not call %s", method)
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, errors.Errorf("unexpected result type %T of %s", out[0], method)
	}
	return addrs, nil
}

// AddDirector grants the director role to addr
func (r *RoleRegistry) AddDirector(ctx context.Context, addr common.Address) (*types.Receipt, error) {
	return r.transact(ctx, "addDirector", addr)
}

// RemoveDirector revokes the director role of addr
func (r *RoleRegistry) RemoveDirector(ctx context.Context, addr common.Address) (*types.Receipt, error) {
	return r.transact(ctx, "removeDirector", addr)
}

// AddStudent grants the student role to addr
func (r *RoleRegistry) AddStudent(ctx context.Context, addr common.Address) (*types.Receipt, error) {
	return r.transact(ctx, "addStudent", addr)
}

// RemoveStudent revokes the student role of addr
func (r *RoleRegistry) RemoveStudent(ctx context.Context, addr common.Address) (*types.Receipt, error) {
	return r.transact(ctx, "removeStudent", addr)
}

// transact submits method and waits until it is mined
func (r *RoleRegistry) transact(ctx context.Context, method string, addr common.Address) (*types.Receipt, error) {
	if r.wallet == nil {
		return nil, ErrWalletUnavailable
	}
	opts, err := r.wallet.Signer(ctx, method+" "+addr.Hex())
	if err != nil {
		return nil, err
	}
	tx, err := r.contract.Transact(opts, method, addr)
	if err != nil {
		return nil, errors.Wrapf(classify(err), "could not submit %s", method)
	}
	log.WithFields(
		log.Fields{
			"method":  method,
			"address": addr.Hex(),
			"tx_hash": tx.Hash().Hex(),
		},
	).Info("role registry transaction submitted")
	receipt, err := waitMined(ctx, r.backend, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, errors.Wrapf(ErrTransactionReverted, "%s %s", method, tx.Hash().Hex())
	}
	return receipt, nil
}

// parseOnChainRole maps the role tags returned by checkRole. The deployed
// registry answers with English or Spanish tags.
func parseOnChainRole(tag string) model.Role {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "admin", "administrador":
		return model.RoleAdmin
	case "director":
		return model.RoleDirector
	case "student", "estudiante":
		return model.RoleStudent
	default:
		return model.RoleNone
	}
}
