package certifychain

import (
	"bytes"
	_ "embed"
	"html/template"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/api/portalapi"
	"github.com/certifychain/certifychain/storage/model"
)

// VerificationConf configures the public verification page
type VerificationConf struct {
	// ExplorerTxURL is prefixed to transaction hashes to link them to a
	// block explorer; empty disables the link
	ExplorerTxURL string `yaml:"explorer_tx_url"`
}

//go:embed verification.gohtml
var verificationTemplateSource string

var verificationTemplate = template.Must(
	template.New("verification").Funcs(
		template.FuncMap{
			"date": func(t time.Time) string {
				return t.UTC().Format("2 January 2006")
			},
		},
	).Parse(verificationTemplateSource),
)

type statusInfo struct {
	Label       string
	Class       string
	Description string
}

var statusInfos = map[model.CertificateStatus]statusInfo{
	model.StatusIssued: {
		Label:       "Issued",
		Class:       "issued",
		Description: "The certificate has been generated and is ready to be minted.",
	},
	model.StatusMinted: {
		Label:       "NFT Certificate",
		Class:       "minted",
		Description: "The certificate is permanently registered on the blockchain.",
	},
	model.StatusRevoked: {
		Label:       "Revoked",
		Class:       "revoked",
		Description: "This certificate has been revoked by its issuer.",
	},
}

type verificationView struct {
	ID          string
	Found       bool
	Message     string
	Certificate model.PublicCertificate
	Status      statusInfo
	ExplorerURL string
}

// AddVerificationEndpoint adds the public verification page at /:certificateId.
// It matches every single segment path and must be added after all other
// endpoints.
func (s *Server) AddVerificationEndpoint(conf VerificationConf, store model.CertificatesStore) {
	s.server.Get(
		"/:certificateId", func(ctx *fiber.Ctx) error {
			return handleVerification(ctx, conf, store)
		},
	)
}

func wantsJSON(ctx *fiber.Ctx) bool {
	return ctx.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}

func handleVerification(ctx *fiber.Ctx, conf VerificationConf, store model.CertificatesStore) error {
	id := ctx.Params("certificateId")
	view := verificationView{ID: id}

	var rec *model.CertificateRecord
	var err error
	if _, parseErr := uuid.Parse(id); parseErr != nil {
		err = model.NotFoundErrorFmt("certificate not found: %s", id)
	} else {
		rec, err = store.Get(id)
	}
	if err != nil {
		var notFound model.NotFoundError
		status := fiber.StatusNotFound
		code := portalapi.ErrorCodeNotFound
		view.Message = "Certificate not found"
		if !errors.As(err, &notFound) {
			log.WithError(err).WithField("certificate_id", id).Error("could not verify certificate")
			status = fiber.StatusInternalServerError
			code = portalapi.ErrorCodeServerError
			view.Message = "The certificate could not be verified"
		}
		ctx.Status(status)
		if wantsJSON(ctx) {
			return ctx.JSON(
				portalapi.Error{
					Error:            code,
					ErrorDescription: view.Message,
				},
			)
		}
		return renderVerification(ctx, view)
	}

	pub := rec.Public()
	if wantsJSON(ctx) {
		return ctx.JSON(pub)
	}
	view.Found = true
	view.Certificate = pub
	view.Status = statusInfos[rec.Status]
	if conf.ExplorerTxURL != "" && pub.TxHash != "" {
		view.ExplorerURL = strings.TrimSuffix(conf.ExplorerTxURL, "/") + "/" + pub.TxHash
	}
	return renderVerification(ctx, view)
}

func renderVerification(ctx *fiber.Ctx, view verificationView) error {
	var buf bytes.Buffer
	if err := verificationTemplate.Execute(&buf, view); err != nil {
		return errors.Wrap(err, "could not render verification page")
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return ctx.Send(buf.Bytes())
}
