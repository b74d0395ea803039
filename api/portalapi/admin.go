package portalapi

import (
	"context"
	"strings"

	arrays "github.com/adam-hanna/arrayOperations"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
	"tideland.dev/go/slices"

	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/storage/model"
)

// RoleMember is an entry of a role listing
type RoleMember struct {
	Address     string `json:"address"`
	Registered  bool   `json:"registered"`
	DisplayName string `json:"display_name,omitempty"`
}

// RoleListingRequest filters role listings
type RoleListingRequest struct {
	// Registered is either empty, "only" (wallets that also registered
	// off-chain with the same role) or "exclude" (wallets that did not)
	Registered string `query:"registered"`
}

// roleGroup describes one of the role registry lists
type roleGroup struct {
	role   model.Role
	list   func(ctx context.Context) ([]common.Address, error)
	add    func(ctx context.Context, addr common.Address) (*types.Receipt, error)
	remove func(ctx context.Context, addr common.Address) (*types.Receipt, error)
}

func (h *handlers) registerAdmin(r fiber.Router) {
	if h.deps.Registry == nil {
		return
	}
	g := r.Group("/admin", h.requireAdmin)
	h.registerRoleGroup(
		g.Group("/directors"), roleGroup{
			role:   model.RoleDirector,
			list:   h.deps.Registry.Directors,
			add:    h.deps.Registry.AddDirector,
			remove: h.deps.Registry.RemoveDirector,
		},
	)
	h.registerRoleGroup(
		g.Group("/students"), roleGroup{
			role:   model.RoleStudent,
			list:   h.deps.Registry.Students,
			add:    h.deps.Registry.AddStudent,
			remove: h.deps.Registry.RemoveStudent,
		},
	)
}

func lowerAddresses(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = model.NormalizeAddress(a.Hex())
	}
	return out
}

func (h *handlers) registerRoleGroup(g fiber.Router, group roleGroup) {
	g.Get(
		"/", func(c *fiber.Ctx) error {
			var req RoleListingRequest
			if err := c.QueryParser(&req); err != nil {
				return badRequest(c, "could not parse request parameters: "+err.Error())
			}
			ctx, cancel := context.WithTimeout(c.UserContext(), chainTimeout)
			defer cancel()
			onChain, err := group.list(ctx)
			if err != nil {
				return c.Status(fiber.StatusBadGateway).JSON(errorBody(ErrorCodeUpstream, err.Error()))
			}
			registered, err := h.deps.Roles.List(group.role)
			if err != nil {
				return writeError(c, err)
			}
			names := make(map[string]string, len(registered))
			registeredAddrs := make([]string, len(registered))
			for i, rec := range registered {
				registeredAddrs[i] = rec.WalletAddress
				names[rec.WalletAddress] = rec.DisplayName
			}

			addrs := lowerAddresses(onChain)
			switch req.Registered {
			case "":
			case "only":
				addrs = arrays.Intersect(addrs, registeredAddrs)
			case "exclude":
				addrs = slices.Subtract(addrs, registeredAddrs)
			default:
				return badRequest(c, "parameter 'registered' must be 'only' or 'exclude'")
			}
			members := make([]RoleMember, len(addrs))
			for i, a := range addrs {
				name, ok := names[a]
				members[i] = RoleMember{
					Address:     a,
					Registered:  ok,
					DisplayName: name,
				}
			}
			return c.JSON(members)
		},
	)

	type memberReq struct {
		Address string `json:"address"`
	}
	g.Post(
		"/", func(c *fiber.Ctx) error {
			var req memberReq
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid body")
			}
			return h.changeMembership(c, group.role, "added", req.Address, group.add)
		},
	)
	g.Delete(
		"/:address", func(c *fiber.Ctx) error {
			return h.changeMembership(c, group.role, "removed", c.Params("address"), group.remove)
		},
	)
}

func (h *handlers) changeMembership(
	c *fiber.Ctx, role model.Role, verb, address string,
	change func(ctx context.Context, addr common.Address) (*types.Receipt, error),
) error {
	addr, err := chain.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return badRequest(c, err.Error())
	}
	timeout := h.deps.RegistryWriteTimeout
	if timeout <= 0 {
		timeout = DefaultRegistryWriteTimeout
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()
	receipt, err := change(ctx, addr)
	if err != nil {
		status, code := classify(err, fiber.StatusBadGateway)
		return c.Status(status).JSON(errorBody(code, err.Error()))
	}
	log.WithFields(
		log.Fields{
			"address": addr.Hex(),
			"role":    role.String(),
			"tx_hash": receipt.TxHash.Hex(),
		},
	).Infof("%s %s", role, verb)
	return c.JSON(
		fiber.Map{
			"address":      model.NormalizeAddress(addr.Hex()),
			"role":         role,
			"tx_hash":      receipt.TxHash.Hex(),
			"block_number": receipt.BlockNumber,
		},
	)
}
