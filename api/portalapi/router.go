// Package portalapi implements the json api used by the admin, director and
// student dashboards
package portalapi

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/certifychain/certifychain/issuance"
	"github.com/certifychain/certifychain/storage/model"
)

// RoleRegistry is the part of the on-chain role registry used by the api
type RoleRegistry interface {
	CheckRole(ctx context.Context, addr common.Address) (model.Role, error)
	Directors(ctx context.Context) ([]common.Address, error)
	Students(ctx context.Context) ([]common.Address, error)
	AddDirector(ctx context.Context, addr common.Address) (*types.Receipt, error)
	RemoveDirector(ctx context.Context, addr common.Address) (*types.Receipt, error)
	AddStudent(ctx context.Context, addr common.Address) (*types.Receipt, error)
	RemoveStudent(ctx context.Context, addr common.Address) (*types.Receipt, error)
}

// Issuance is the issuance workflow
type Issuance interface {
	Start(ctx context.Context, createdBy string, req issuance.GenerateRequest) (*issuance.Snapshot, error)
	Get(id string) (*issuance.Snapshot, error)
	RetryImage(ctx context.Context, id string) (*issuance.Snapshot, error)
	SubmitMetadata(ctx context.Context, id string, fields issuance.MetadataFields) (*issuance.Snapshot, error)
	Mint(ctx context.Context, id, recipient string) (*issuance.Snapshot, error)
	Finalize(ctx context.Context, id, txHash string) (*model.CertificateRecord, error)
	MintPrice(ctx context.Context) (*big.Int, error)
}

// Dependencies are the components behind the api
type Dependencies struct {
	Roles        model.RolesStore
	Certificates model.CertificatesStore
	Issuance     Issuance
	// Registry may be nil; the admin routes are not mounted then and
	// unregistered wallets have no role
	Registry RoleRegistry
	// RegistryWriteTimeout bounds the role changes of the admin routes;
	// DefaultRegistryWriteTimeout is used if it is zero
	RegistryWriteTimeout time.Duration
}

type handlers struct {
	deps Dependencies
	auth *authenticator
}

// Register mounts all api routes under the provided group
func Register(r fiber.Router, deps Dependencies, auth AuthConfig) error {
	if deps.Roles == nil || deps.Certificates == nil || deps.Issuance == nil {
		return errors.New("portalapi: roles, certificates and issuance are required")
	}
	a, err := newAuthenticator(auth)
	if err != nil {
		return errors.Wrap(err, "portalapi")
	}
	h := &handlers{
		deps: deps,
		auth: a,
	}

	r.Use(a.sessionMiddleware)
	h.registerAuth(r)
	h.registerSession(r)
	h.registerAdmin(r)
	h.registerIssuances(r)
	h.registerCertificates(r)
	return nil
}
