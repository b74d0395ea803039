package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/certifychain/certifychain/storage/model"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
)

func output(v any) error {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func printReceipt(action string, r *types.Receipt) {
	fmt.Printf("%s %s\n", okColor.Sprint(action), r.TxHash.Hex())
	fmt.Printf("  block: %s\n", r.BlockNumber)
}

func statusColor(s model.CertificateStatus) *color.Color {
	switch s {
	case model.StatusMinted:
		return okColor
	case model.StatusRevoked:
		return errColor
	default:
		return warnColor
	}
}
