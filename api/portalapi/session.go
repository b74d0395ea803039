package portalapi

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/storage/model"
)

// Views the client routes a session to
const (
	ViewLanding       = "landing"
	ViewRoleSelection = "role-selection"
	ViewDashboard     = "dashboard"
)

const localsRole = "session_role"

// chainTimeout bounds the role lookups done while authorizing a request
const chainTimeout = 10 * time.Second

// DefaultRegistryWriteTimeout bounds a role registry write including the wait
// for its receipt
const DefaultRegistryWriteTimeout = 2 * time.Minute

// Me describes the session wallet
type Me struct {
	View        string     `json:"view"`
	Address     string     `json:"address,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        model.Role `json:"role"`
	// OnChainRole is the role granted by the role registry, if it could be
	// looked up
	OnChainRole *model.Role `json:"onchain_role,omitempty"`
}

func (h *handlers) onChainRole(ctx context.Context, address string) (model.Role, error) {
	if h.deps.Registry == nil {
		return model.RoleNone, nil
	}
	ctx, cancel := context.WithTimeout(ctx, chainTimeout)
	defer cancel()
	return h.deps.Registry.CheckRole(ctx, common.HexToAddress(address))
}

// sessionRole returns the on-chain role of the session wallet. Registrations
// only carry the display name and the dashboard routing, they never grant a
// role.
func (h *handlers) sessionRole(c *fiber.Ctx) (model.Role, error) {
	if role, ok := c.Locals(localsRole).(model.Role); ok {
		return role, nil
	}
	address, _ := sessionAddress(c)
	role, err := h.onChainRole(c.UserContext(), address)
	if err != nil {
		return model.RoleNone, err
	}
	c.Locals(localsRole, role)
	return role, nil
}

// requireRole only passes sessions holding one of roles
func (h *handlers) requireRole(roles ...model.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := sessionAddress(c); !ok {
			return unauthorized(c)
		}
		role, err := h.sessionRole(c)
		if err != nil {
			return writeError(c, err)
		}
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return forbidden(c, "this action requires the role "+roleNames(roles))
	}
}

// requireAdmin only passes the admin of the role registry
func (h *handlers) requireAdmin(c *fiber.Ctx) error {
	address, ok := sessionAddress(c)
	if !ok {
		return unauthorized(c)
	}
	role, err := h.onChainRole(c.UserContext(), address)
	if err != nil {
		return writeError(c, err)
	}
	if role != model.RoleAdmin {
		return forbidden(c, "only the registry admin can manage roles")
	}
	return c.Next()
}

func roleNames(roles []model.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return strings.Join(names, " or ")
}

func (h *handlers) me(c *fiber.Ctx) error {
	address, ok := sessionAddress(c)
	if !ok {
		return c.JSON(Me{View: ViewLanding})
	}
	me := Me{
		View:    ViewRoleSelection,
		Address: address,
	}
	if role, err := h.onChainRole(c.UserContext(), address); err != nil {
		log.WithError(err).WithField("address", address).Warn("could not look up on-chain role")
	} else {
		me.OnChainRole = &role
	}
	rec, err := h.deps.Roles.Get(address)
	if err != nil {
		var nf model.NotFoundError
		if !errors.As(err, &nf) {
			log.WithError(err).WithField("address", address).Error("could not look up registration")
		}
		return c.JSON(me)
	}
	me.View = ViewDashboard
	me.Role = rec.Role
	me.DisplayName = rec.DisplayName
	return c.JSON(me)
}

func (h *handlers) registerSession(r fiber.Router) {
	r.Get("/me", h.me)

	type registerReq struct {
		DisplayName string `json:"display_name"`
		Role        string `json:"role"`
	}
	r.Post(
		"/registration", requireSession, func(c *fiber.Ctx) error {
			address, _ := sessionAddress(c)
			var req registerReq
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid body")
			}
			req.DisplayName = strings.TrimSpace(req.DisplayName)
			if req.DisplayName == "" {
				return badRequest(c, "display_name is required")
			}
			role, err := model.ParseRole(req.Role)
			if err != nil || !role.Registrable() {
				return badRequest(c, "role must be director or student")
			}
			rec, err := h.deps.Roles.Register(address, req.DisplayName, role)
			if err != nil {
				return writeError(c, err)
			}
			log.WithFields(
				log.Fields{
					"address": address,
					"role":    role.String(),
				},
			).Info("wallet registered")
			return c.Status(fiber.StatusCreated).JSON(rec)
		},
	)

	type updateReq struct {
		DisplayName *string `json:"display_name"`
		Role        *string `json:"role"`
	}
	r.Patch(
		"/registration", requireSession, func(c *fiber.Ctx) error {
			address, _ := sessionAddress(c)
			var req updateReq
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid body")
			}
			var role *model.Role
			if req.Role != nil {
				parsed, err := model.ParseRole(*req.Role)
				if err != nil || !parsed.Registrable() {
					return badRequest(c, "role must be director or student")
				}
				role = &parsed
			}
			if req.DisplayName != nil {
				name := strings.TrimSpace(*req.DisplayName)
				if name == "" {
					return badRequest(c, "display_name must not be empty")
				}
				req.DisplayName = &name
			}
			rec, err := h.deps.Roles.Update(address, req.DisplayName, role)
			if err != nil {
				return writeError(c, err)
			}
			return c.JSON(rec)
		},
	)
}
