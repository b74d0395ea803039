package certifychain

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/certifychain/certifychain/api/portalapi"
	"github.com/certifychain/certifychain/pinning"
)

// AddIPFSEndpoint serves the objects of a local pin store under
// <path>/:cid, so links produced by the store resolve against this server
func (s *Server) AddIPFSEndpoint(endpoint EndpointConf, store *pinning.LocalStore) {
	if endpoint.Path == "" || store == nil {
		return
	}
	s.server.Get(
		endpoint.Path+"/:cid", func(ctx *fiber.Ctx) error {
			data, info, err := store.Get(ctx.Params("cid"))
			if err != nil {
				if errors.Is(err, pinning.ErrNotFound) {
					return ctx.Status(fiber.StatusNotFound).JSON(
						portalapi.Error{
							Error:            portalapi.ErrorCodeNotFound,
							ErrorDescription: "object not found",
						},
					)
				}
				return err
			}
			ctx.Set(fiber.HeaderContentType, info.ContentType)
			// content addressed objects never change
			ctx.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
			ctx.Set(fiber.HeaderETag, `"`+ctx.Params("cid")+`"`)
			return ctx.Send(data)
		},
	)
}
