package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/certifychain/certifychain/chain"
	"github.com/certifychain/certifychain/cmd/certifychain/config"
	"github.com/certifychain/certifychain/issuance"
	"github.com/certifychain/certifychain/pinning"
	"github.com/certifychain/certifychain/storage/model"
)

var listFlags struct {
	status    string
	recipient string
	creator   string
}

func init() {
	certificateListCmd.Flags().StringVar(&listFlags.status, "status", "", "only list certificates with this status (issued, minted or revoked; default minted)")
	certificateListCmd.Flags().StringVar(&listFlags.recipient, "recipient", "", "only list certificates minted to this wallet")
	certificateListCmd.Flags().StringVar(&listFlags.creator, "creator", "", "only list certificates issued by this wallet")
	certificateListCmd.MarkFlagsMutuallyExclusive("status", "recipient", "creator")
	certificateCmd.AddCommand(certificateGetCmd, certificateListCmd, certificateFinalizeCmd, certificateRevokeCmd)
	rootCmd.AddCommand(certificateCmd)
}

var certificateCmd = &cobra.Command{
	Use:     "certificate",
	Aliases: []string{"cert"},
	Short:   "Inspect and manage stored certificates",
}

var certificateGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "prints a stored certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := backends.Certificates.Get(args[0])
		if err != nil {
			return err
		}
		return output(rec)
	},
}

var certificateListCmd = &cobra.Command{
	Use:   "list",
	Short: "lists stored certificates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var recs []model.CertificateRecord
		var err error
		switch {
		case listFlags.recipient != "":
			recs, err = backends.Certificates.ListByRecipient(listFlags.recipient)
		case listFlags.creator != "":
			recs, err = backends.Certificates.ListByCreator(listFlags.creator)
		default:
			var status model.CertificateStatus
			if status, err = listStatus(listFlags.status); err != nil {
				return err
			}
			recs, err = backends.Certificates.ListByStatus(status)
		}
		if err != nil {
			return err
		}
		if outputJSON {
			return output(recs)
		}
		for _, r := range recs {
			fmt.Printf(
				"%s  %-8s  %s (%s)\n", r.ID, statusColor(r.Status).Sprint(r.Status), r.StudentName,
				r.Institution,
			)
		}
		return nil
	},
}

// listStatus parses the --status flag; minted certificates are listed if it is
// not set
func listStatus(flag string) (model.CertificateStatus, error) {
	if flag == "" {
		return model.StatusMinted, nil
	}
	return model.ParseStatus(strings.ToLower(strings.TrimSpace(flag)))
}

var certificateFinalizeCmd = &cobra.Command{
	Use:   "finalize ID TX_HASH",
	Short: "marks a certificate as minted after checking the mint transaction",
	Long: `marks a certificate as minted after checking the mint transaction.

This recovers certificates whose mint transaction succeeded but whose
transaction hash was never stored, e.g. because the server stopped while
waiting for the receipt.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, wallet, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()
		// finalizing never pins, an in-memory store keeps the server's
		// pin database unlocked
		pins, err := pinning.NewLocalStore("", conf.ExternalURL)
		if err != nil {
			return err
		}
		defer func() { _ = pins.Close() }()
		composerConf := conf.Composer
		composerConf.Template = ""
		comp, err := config.LoadComposer(cmd.Context(), composerConf)
		if err != nil {
			return err
		}
		workflow, err := issuance.New(
			issuance.Dependencies{
				Composer:     comp,
				Pins:         pins,
				Certificates: backends.Certificates,
				Token:        chain.NewToken(conf.Chain.TokenAddress(), client, wallet),
				Wallet:       wallet,
			}, conf.Issuance.WorkflowConfig(),
		)
		if err != nil {
			return err
		}
		defer workflow.Close()
		rec, err := workflow.Finalize(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s token %s\n", okColor.Sprint("minted"), rec.ID, *rec.TokenID)
		return nil
	},
}

var certificateRevokeCmd = &cobra.Command{
	Use:   "revoke ID",
	Short: "marks a certificate as revoked on the verification page",
	Long: `marks a certificate as revoked on the verification page.

The token itself stays on-chain; the verification page shows the certificate
as revoked from then on.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := backends.Certificates.Revoke(args[0])
		if err != nil {
			var nf model.NotFoundError
			if errors.As(err, &nf) {
				return errors.Errorf("certificate '%s' does not exist", args[0])
			}
			return err
		}
		fmt.Printf("%s %s\n", errColor.Sprint("revoked"), rec.ID)
		return nil
	},
}
