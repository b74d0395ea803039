package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/cmd/certifychain/config"
	"github.com/certifychain/certifychain/storage/model"
)

var rootCmd = &cobra.Command{
	Use:   "certctl",
	Short: "certctl can help you manage your certifychain deployment",
	Long: `certctl can help you manage your certifychain deployment.

It reads the same config file as the server and talks to the configured
database and chain directly. Every transaction is confirmed on the terminal
unless --yes is given.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
	SilenceUsage: true,
}

var (
	configFile  string
	autoApprove bool
	outputJSON  bool
)

var conf *config.Config
var backends model.Backends

func loadConfig() error {
	config.Load(configFile)
	conf = config.Get()
	log.SetLevel(log.WarnLevel)

	var err error
	backends, err = config.LoadStorageBackends(conf.Storage)
	return err
}

// dial connects to the configured chain and loads the wallet; transactions
// are confirmed on the terminal unless --yes was passed
func dial(ctx context.Context) (*ethclient.Client, *chain.KeyWallet, error) {
	client, err := chain.Dial(ctx, conf.Chain.RPCURL, conf.Chain.ChainIDInt())
	if err != nil {
		return nil, nil, err
	}
	var approver chain.Approver = chain.NewPromptApprover()
	if autoApprove {
		approver = chain.AutoApprove
	}
	wallet, err := conf.Chain.LoadWallet(approver)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, wallet, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "the config file to use")
	rootCmd.PersistentFlags().BoolVarP(&autoApprove, "yes", "y", false, "sign transactions without asking")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as json instead of yaml")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
