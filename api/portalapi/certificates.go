package portalapi

import (
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/storage/model"
)

// CertificateListingRequest filters the certificates of a director
type CertificateListingRequest struct {
	Status string `query:"status"`
}

func publicViews(records []model.CertificateRecord) []model.PublicCertificate {
	out := make([]model.PublicCertificate, len(records))
	for i, rec := range records {
		out[i] = rec.Public()
	}
	return out
}

func (h *handlers) registerCertificates(r fiber.Router) {
	director := h.requireRole(model.RoleDirector)
	student := h.requireRole(model.RoleStudent)
	g := r.Group("/certificates")

	g.Get(
		"/issued", director, func(c *fiber.Ctx) error {
			address, _ := sessionAddress(c)
			var req CertificateListingRequest
			if err := c.QueryParser(&req); err != nil {
				return badRequest(c, "could not parse request parameters: "+err.Error())
			}
			records, err := h.deps.Certificates.ListByCreator(address)
			if err != nil {
				return writeError(c, err)
			}
			if req.Status != "" {
				status, err := model.ParseStatus(req.Status)
				if err != nil {
					return badRequest(c, err.Error())
				}
				filtered := records[:0]
				for _, rec := range records {
					if rec.Status == status {
						filtered = append(filtered, rec)
					}
				}
				records = filtered
			}
			return c.JSON(records)
		},
	)
	g.Get(
		"/mine", student, func(c *fiber.Ctx) error {
			address, _ := sessionAddress(c)
			records, err := h.deps.Certificates.ListByRecipient(address)
			if err != nil {
				return writeError(c, err)
			}
			return c.JSON(publicViews(records))
		},
	)

	type finalizeReq struct {
		TxHash string `json:"tx_hash"`
	}
	g.Post(
		"/:id/finalize", director, func(c *fiber.Ctx) error {
			var req finalizeReq
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid body")
			}
			if _, err := h.ownCertificate(c); err != nil {
				return writeError(c, err)
			}
			rec, err := h.deps.Issuance.Finalize(c.UserContext(), c.Params("id"), req.TxHash)
			if err != nil {
				status, code := classify(err, fiber.StatusBadGateway)
				return c.Status(status).JSON(errorBody(code, err.Error()))
			}
			return c.JSON(rec)
		},
	)
	g.Post(
		"/:id/revoke", director, func(c *fiber.Ctx) error {
			if _, err := h.ownCertificate(c); err != nil {
				return writeError(c, err)
			}
			rec, err := h.deps.Certificates.Revoke(c.Params("id"))
			if err != nil {
				return writeError(c, err)
			}
			log.WithField("certificate_id", rec.ID).Info("certificate revoked")
			return c.JSON(rec)
		},
	)

	g.Get(
		"/:id", func(c *fiber.Ctx) error {
			rec, err := h.deps.Certificates.Get(c.Params("id"))
			if err != nil {
				return writeError(c, err)
			}
			return c.JSON(rec.Public())
		},
	)
}
