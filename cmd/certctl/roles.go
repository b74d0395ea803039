package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/certifychain/certifychain/chain"
)

func init() {
	roleCmd.AddCommand(roleCheckCmd, roleListCmd)
	directorCmd.AddCommand(
		roleWriteCmd("add", "grants the director role to an address", (*chain.RoleRegistry).AddDirector),
		roleWriteCmd("remove", "revokes the director role of an address", (*chain.RoleRegistry).RemoveDirector),
	)
	studentCmd.AddCommand(
		roleWriteCmd("add", "grants the student role to an address", (*chain.RoleRegistry).AddStudent),
		roleWriteCmd("remove", "revokes the student role of an address", (*chain.RoleRegistry).RemoveStudent),
	)
	rootCmd.AddCommand(roleCmd, directorCmd, studentCmd, priceCmd)
}

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Query the role registry",
}

var roleCheckCmd = &cobra.Command{
	Use:   "check ADDRESS",
	Short: "prints the on-chain role of an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := chain.ParseAddress(args[0])
		if err != nil {
			return err
		}
		client, wallet, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()
		registry := chain.NewRoleRegistry(conf.Chain.RoleRegistryAddress(), client, wallet)
		role, err := registry.CheckRole(cmd.Context(), addr)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", addr.Hex(), okColor.Sprint(role))
		return nil
	},
}

var roleListCmd = &cobra.Command{
	Use:       "list directors|students",
	Short:     "lists the addresses holding a role on-chain",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"directors", "students"},
	RunE: func(cmd *cobra.Command, args []string) error {
		client, wallet, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()
		registry := chain.NewRoleRegistry(conf.Chain.RoleRegistryAddress(), client, wallet)
		var addrs []common.Address
		switch args[0] {
		case "directors":
			addrs, err = registry.Directors(cmd.Context())
		case "students":
			addrs, err = registry.Students(cmd.Context())
		default:
			return errors.Errorf("unknown role list '%s'", args[0])
		}
		if err != nil {
			return err
		}
		out := make([]string, len(addrs))
		for i, a := range addrs {
			out[i] = a.Hex()
		}
		return output(out)
	},
}

var directorCmd = &cobra.Command{
	Use:   "director",
	Short: "Manage directors in the role registry",
}

var studentCmd = &cobra.Command{
	Use:   "student",
	Short: "Manage students in the role registry",
}

type roleWrite func(*chain.RoleRegistry, context.Context, common.Address) (*types.Receipt, error)

// roleWriteCmd builds a command sending one role registry transaction signed
// by the configured wallet, which must be the registry admin
func roleWriteCmd(use, short string, write roleWrite) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ADDRESS",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := chain.ParseAddress(args[0])
			if err != nil {
				return err
			}
			client, wallet, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			registry := chain.NewRoleRegistry(conf.Chain.RoleRegistryAddress(), client, wallet)
			receipt, err := write(registry, cmd.Context(), addr)
			if err != nil {
				if errors.Is(err, chain.ErrUserRejected) {
					fmt.Println(warnColor.Sprint("aborted"))
					return nil
				}
				return err
			}
			printReceipt(cmd.Parent().Name()+" "+use, receipt)
			return nil
		},
	}
}

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "prints the current mint price in wei",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, wallet, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()
		price, err := chain.NewToken(conf.Chain.TokenAddress(), client, wallet).MintPrice(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(price.String())
		return nil
	},
}
