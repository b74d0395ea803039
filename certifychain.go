// Package certifychain wires the certificate portal into a single http server:
// the public verification page, the portal api, locally pinned assets and the
// metrics endpoint.
package certifychain

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain/api/portalapi"
	"github.com/certifychain/certifychain/internal/version"
)

// EndpointConf is a type for configuring an endpoint with an internal and external path
type EndpointConf struct {
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
}

// IsSet returns a bool indicating if this endpoint was configured or not
func (c EndpointConf) IsSet() bool {
	return c.Path != "" || c.URL != ""
}

// ValidateURL validates that an external URL is set,
// and if not prefixes the internal path with the passed rootURL and sets it
// at the external url
func (c *EndpointConf) ValidateURL(rootURL string) string {
	if c.URL == "" {
		c.URL, _ = url.JoinPath(rootURL, c.Path)
	}
	return c.URL
}

// FiberServerConfig is the fiber.Config that is used to init the http fiber.App
var FiberServerConfig = fiber.Config{
	ReadTimeout:    3 * time.Second,
	WriteTimeout:   20 * time.Second,
	IdleTimeout:    150 * time.Second,
	ReadBufferSize: 8192,
	// image uploads are done by the server itself, requests stay small
	BodyLimit:    1 << 20,
	ErrorHandler: handleError,
	Network:      "tcp",
}

// Server is the certificate portal http server
type Server struct {
	server     *fiber.App
	serverConf ServerConf
}

// NewServer creates a new Server. Access logs are written to accessLog; a nil
// writer uses fiber's default output.
func NewServer(serverConf ServerConf, accessLog io.Writer) *Server {
	if tps := serverConf.TrustedProxies; len(tps) > 0 {
		FiberServerConfig.TrustedProxies = serverConf.TrustedProxies
		FiberServerConfig.EnableTrustedProxyCheck = true
	}
	FiberServerConfig.ProxyHeader = serverConf.ForwardedIPHeader
	server := fiber.New(FiberServerConfig)
	server.Use(recover.New())
	server.Use(compress.New())
	loggerConf := logger.Config{}
	if accessLog != nil {
		loggerConf.Output = accessLog
	}
	server.Use(logger.New(loggerConf))
	server.Use(requestid.New())
	if origins := serverConf.CORSAllowOrigins; len(origins) > 0 {
		server.Use(
			cors.New(
				cors.Config{
					AllowOrigins: strings.Join(origins, ","),
					AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
					AllowHeaders: "Origin,Content-Type,Accept,Authorization",
				},
			),
		)
	}
	server.Use(
		func(ctx *fiber.Ctx) error {
			ctx.Set("X-Certifychain-Version", version.VERSION)
			return ctx.Next()
		},
	)
	return &Server{
		server:     server,
		serverConf: serverConf,
	}
}

// AddAPI mounts the portal api at path
func (s *Server) AddAPI(path string, deps portalapi.Dependencies, auth portalapi.AuthConfig) error {
	return errors.Wrap(portalapi.Register(s.server.Group(path), deps, auth), "could not mount api")
}

// AddMetricsEndpoint serves the metrics of gatherer
func (s *Server) AddMetricsEndpoint(endpoint EndpointConf, gatherer prometheus.Gatherer) {
	if endpoint.Path == "" {
		return
	}
	s.server.Get(endpoint.Path, adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// HttpHandlerFunc returns an http.HandlerFunc for serving all the necessary endpoints
func (s *Server) HttpHandlerFunc() http.HandlerFunc {
	return adaptor.FiberApp(s.server)
}

// App returns the underlying fiber.App
func (s *Server) App() *fiber.App {
	return s.server
}

// Listen starts an http server at the specific address for serving all the
// necessary endpoints
func (s *Server) Listen(addr string) error {
	return s.server.Listen(addr)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	return s.server.Shutdown()
}

// Start starts the server as configured and blocks until it stops
func (s *Server) Start() {
	conf := s.serverConf
	if !conf.TLS.Enabled {
		log.WithField("port", conf.Port).Info("TLS is disabled starting http server")
		if err := s.server.Listen(fmt.Sprintf("%s:%d", conf.IPListen, conf.Port)); err != nil {
			log.WithError(err).Fatal()
		}
		return
	}
	// TLS enabled
	if conf.TLS.RedirectHTTP {
		httpServer := fiber.New(FiberServerConfig)
		httpServer.All(
			"*", func(ctx *fiber.Ctx) error {
				//goland:noinspection HttpUrlsUsage
				return ctx.Redirect(
					strings.Replace(ctx.Request().URI().String(), "http://", "https://", 1),
					fiber.StatusPermanentRedirect,
				)
			},
		)
		log.Info("TLS and http redirect enabled, starting redirect server on port 80")
		go func() {
			log.WithError(httpServer.Listen(fmt.Sprintf("%s:80", conf.IPListen))).Fatal()
		}()
	}
	time.Sleep(time.Millisecond) // This is just for a more pretty output with the tls header printed after the http one
	log.Info("TLS enabled, starting https server on port 443")
	if err := s.server.ListenTLS(fmt.Sprintf("%s:443", conf.IPListen), conf.TLS.Cert, conf.TLS.Key); err != nil {
		log.WithError(err).Fatal()
	}
}
