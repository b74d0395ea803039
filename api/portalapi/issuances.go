package portalapi

import (
	"math/big"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/certifychain/certifychain/issuance"
	"github.com/certifychain/certifychain/storage/model"
)

var weiPerEther = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

// MintPrice is the response of the mint price endpoint
type MintPrice struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

func newMintPrice(wei *big.Int) MintPrice {
	ether := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Text('f', 18)
	ether = strings.TrimRight(strings.TrimRight(ether, "0"), ".")
	return MintPrice{
		Wei:   wei.String(),
		Ether: ether,
	}
}

type generateReq struct {
	StudentName string `json:"student_name"`
	Institution string `json:"institution"`
	// IssuedAt is optional, the current date is used if it is empty
	IssuedAt string `json:"issued_at"`
}

func (r generateReq) request() (issuance.GenerateRequest, error) {
	req := issuance.GenerateRequest{
		StudentName: r.StudentName,
		Institution: r.Institution,
	}
	if r.IssuedAt == "" {
		return req, nil
	}
	t, err := time.Parse(time.DateOnly, r.IssuedAt)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, r.IssuedAt); err != nil {
			return req, err
		}
	}
	req.IssuedAt = t
	return req, nil
}

// ownRun returns the run with the id from the path if it was started by the
// session wallet
func (h *handlers) ownRun(c *fiber.Ctx) (*issuance.Snapshot, error) {
	address, _ := sessionAddress(c)
	snap, err := h.deps.Issuance.Get(c.Params("id"))
	if err != nil {
		return nil, err
	}
	if snap.CreatedBy != address {
		return nil, issuance.ErrRunNotFound
	}
	return snap, nil
}

// ownCertificate returns the stored certificate with the id from the path if
// it was issued by the session wallet
func (h *handlers) ownCertificate(c *fiber.Ctx) (*model.CertificateRecord, error) {
	address, _ := sessionAddress(c)
	rec, err := h.deps.Certificates.Get(c.Params("id"))
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(rec.CreatedBy, address) {
		return nil, model.NotFoundErrorFmt("certificate '%s' not found", c.Params("id"))
	}
	return rec, nil
}

func (h *handlers) registerIssuances(r fiber.Router) {
	director := h.requireRole(model.RoleDirector)
	g := r.Group("/issuances", director)

	g.Post(
		"/", func(c *fiber.Ctx) error {
			address, _ := sessionAddress(c)
			var body generateReq
			if err := c.BodyParser(&body); err != nil {
				return badRequest(c, "invalid body")
			}
			req, err := body.request()
			if err != nil {
				return badRequest(c, "issued_at must be a date (YYYY-MM-DD) or RFC 3339 time")
			}
			snap, err := h.deps.Issuance.Start(c.UserContext(), address, req)
			if err == nil {
				c.Status(fiber.StatusCreated)
			}
			return writeIssuance(c, snap, err)
		},
	)
	g.Get(
		"/:id", func(c *fiber.Ctx) error {
			snap, err := h.ownRun(c)
			if err != nil {
				return writeError(c, err)
			}
			return c.JSON(snap)
		},
	)
	g.Post(
		"/:id/image", func(c *fiber.Ctx) error {
			if _, err := h.ownRun(c); err != nil {
				return writeError(c, err)
			}
			snap, err := h.deps.Issuance.RetryImage(c.UserContext(), c.Params("id"))
			return writeIssuance(c, snap, err)
		},
	)
	g.Put(
		"/:id/metadata", func(c *fiber.Ctx) error {
			if _, err := h.ownRun(c); err != nil {
				return writeError(c, err)
			}
			var fields issuance.MetadataFields
			if err := c.BodyParser(&fields); err != nil {
				return badRequest(c, "invalid body")
			}
			snap, err := h.deps.Issuance.SubmitMetadata(c.UserContext(), c.Params("id"), fields)
			return writeIssuance(c, snap, err)
		},
	)

	type mintReq struct {
		Recipient string `json:"recipient"`
	}
	g.Post(
		"/:id/mint", func(c *fiber.Ctx) error {
			var req mintReq
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid body")
			}
			address, _ := sessionAddress(c)
			snap, err := h.deps.Issuance.Get(c.Params("id"))
			switch {
			case err == nil && snap.CreatedBy != address:
				return writeError(c, issuance.ErrRunNotFound)
			case err != nil:
				// expired runs are resumed from their stored record
				if _, err = h.ownCertificate(c); err != nil {
					return writeError(c, err)
				}
			}
			snap, err = h.deps.Issuance.Mint(c.UserContext(), c.Params("id"), req.Recipient)
			return writeIssuance(c, snap, err)
		},
	)

	r.Get(
		"/mint-price", director, func(c *fiber.Ctx) error {
			price, err := h.deps.Issuance.MintPrice(c.UserContext())
			if err != nil {
				status, code := classify(err, fiber.StatusBadGateway)
				return c.Status(status).JSON(errorBody(code, err.Error()))
			}
			return c.JSON(newMintPrice(price))
		},
	)
}
