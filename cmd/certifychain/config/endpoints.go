package config

import (
	"github.com/certifychain/certifychain"
)

// Endpoints holds configuration for the endpoints of the server. The
// verification page is always served at /<certificate id>.
type Endpoints struct {
	API          certifychain.EndpointConf     `yaml:"api"`
	Metrics      certifychain.EndpointConf     `yaml:"metrics"`
	IPFS         certifychain.EndpointConf     `yaml:"ipfs"`
	Verification certifychain.VerificationConf `yaml:"verification"`
}

var defaultEndpoints = Endpoints{
	API:     certifychain.EndpointConf{Path: "/api/v1"},
	Metrics: certifychain.EndpointConf{Path: "/metrics"},
	IPFS:    certifychain.EndpointConf{Path: "/ipfs"},
	Verification: certifychain.VerificationConf{
		ExplorerTxURL: "https://shannon-explorer.somnia.network/tx/",
	},
}
