package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/certifychain/certifychain"
	"github.com/certifychain/certifychain/api/portalapi"
	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/cmd/certifychain/config"
	"github.com/certifychain/certifychain/internal/logger"
	"github.com/certifychain/certifychain/issuance"
)

func main() {
	var configFile string
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}
	config.Load(configFile)
	c := config.Get()
	if err := logger.Init(c.Logging.LoggerConf()); err != nil {
		log.WithError(err).Fatal("could not init logger")
	}
	printBanner(c.Logging.Banner.Logo, c.Logging.Banner.Version)
	log.Info("Loaded Config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backs, err := config.LoadStorageBackends(c.Storage)
	if err != nil {
		log.WithError(err).Fatal("could not load storage")
	}
	roles, closeCache, err := initRoleCache(ctx, c.Caching, backs.Roles)
	if err != nil {
		log.WithError(err).Fatal("could not init role cache")
	}
	defer closeCache()

	client, err := chain.Dial(ctx, c.Chain.RPCURL, c.Chain.ChainIDInt())
	if err != nil {
		log.WithError(err).Fatal("could not connect to chain")
	}
	defer client.Close()
	wallet, err := c.Chain.LoadWallet(chain.AutoApprove)
	if err != nil {
		log.WithError(err).Fatal("could not load service wallet")
	}
	walletAddress, _ := wallet.CurrentAddress()
	log.WithField("address", walletAddress.Hex()).Info("Loaded service wallet")
	registry := chain.NewRoleRegistry(c.Chain.RoleRegistryAddress(), client, wallet)
	checkRegistryAdmin(ctx, registry, walletAddress)
	token := chain.NewToken(c.Chain.TokenAddress(), client, wallet)

	pins, localPins, err := config.LoadPinning(c.Pinning)
	if err != nil {
		log.WithError(err).Fatal("could not init pinning")
	}
	if localPins != nil {
		defer func() { _ = localPins.Close() }()
	}
	comp, err := config.LoadComposer(ctx, c.Composer)
	if err != nil {
		log.WithError(err).Fatal("could not init composer")
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := &issuance.Metrics{}
	metrics.Register(metricsRegistry)

	workflow, err := issuance.New(
		issuance.Dependencies{
			Composer:     comp,
			Pins:         pins,
			Certificates: backs.Certificates,
			Token:        token,
			Wallet:       wallet,
			Metrics:      metrics,
		}, c.Issuance.WorkflowConfig(),
	)
	if err != nil {
		log.WithError(err).Fatal("could not init issuance workflow")
	}
	defer workflow.Close()
	log.Info("Initialized issuance workflow")

	accessLog, err := logger.AccessWriter(c.Logging.Access.Output())
	if err != nil {
		log.WithError(err).Fatal("could not open access log")
	}
	server := certifychain.NewServer(c.Server, accessLog)
	if endpoint := c.Endpoints.API; endpoint.IsSet() {
		err = server.AddAPI(
			endpoint.Path, portalapi.Dependencies{
				Roles:                roles,
				Certificates:         backs.Certificates,
				Issuance:             workflow,
				Registry:             registry,
				RegistryWriteTimeout: c.Chain.WriteTimeout.Duration(),
			}, c.Auth.AuthConfig(),
		)
		if err != nil {
			log.WithError(err).Fatal()
		}
	}
	server.AddMetricsEndpoint(c.Endpoints.Metrics, metricsRegistry)
	server.AddIPFSEndpoint(c.Endpoints.IPFS, localPins)
	server.AddVerificationEndpoint(c.Endpoints.Verification, backs.Certificates)
	log.Info("Added Endpoints")

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		if err := server.Shutdown(); err != nil {
			log.WithError(err).Error("could not shut down server")
		}
	}()
	server.Start()
}

// checkRegistryAdmin warns if role management writes would be rejected by the
// registry because the service wallet is not its admin
func checkRegistryAdmin(ctx context.Context, registry *chain.RoleRegistry, wallet common.Address) {
	admin, err := registry.Admin(ctx)
	if err != nil {
		log.WithError(err).Warn("could not query role registry admin")
		return
	}
	if admin.Hex() != wallet.Hex() {
		log.WithFields(
			log.Fields{
				"admin":  admin.Hex(),
				"wallet": wallet.Hex(),
			},
		).Warn("service wallet is not the role registry admin; role management will fail")
	}
}
