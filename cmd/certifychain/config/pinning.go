package config

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zachmann/go-utils/duration"

	"github.com/certifychain/certifychain/pinning"
)

// Pinning backends
const (
	PinningPinata = "pinata"
	PinningLocal  = "local"
)

// pinningConf configures where certificate images and metadata are pinned.
// The local backend stores objects in badger and serves them under
// endpoints.ipfs.
type pinningConf struct {
	Backend string           `yaml:"backend"`
	Pinata  pinataConf       `yaml:"pinata"`
	Local   localPinningConf `yaml:"local"`
}

type pinataConf struct {
	APIURL  string                  `yaml:"api_url"`
	JWT     string                  `yaml:"jwt"`
	Gateway string                  `yaml:"gateway"`
	Timeout duration.DurationOption `yaml:"timeout"`
	Retries int                     `yaml:"retries"`
}

type localPinningConf struct {
	// Dir is the badger directory; empty keeps objects in memory
	Dir string `yaml:"dir"`
	// Gateway is the base the links of pinned objects are built from; it
	// defaults to the external url of the ipfs endpoint
	Gateway string `yaml:"gateway"`
}

// PinataConfig returns the configuration of the pinata client
func (c pinataConf) PinataConfig() pinning.PinataConfig {
	return pinning.PinataConfig{
		APIURL:  c.APIURL,
		JWT:     c.JWT,
		Gateway: c.Gateway,
		Timeout: c.Timeout.Duration(),
		Retries: c.Retries,
	}
}

func (c *pinningConf) validate() error {
	switch c.Backend {
	case PinningPinata:
		if c.Pinata.JWT == "" {
			return errors.New("error in pinning conf: pinata.jwt must be specified")
		}
		if c.Pinata.Gateway == "" {
			return errors.New("error in pinning conf: pinata.gateway must be specified")
		}
	case PinningLocal:
	default:
		return errors.Errorf("error in pinning conf: unknown backend '%s'", c.Backend)
	}
	return nil
}

var defaultPinningConf = pinningConf{
	Backend: PinningPinata,
	Pinata: pinataConf{
		APIURL:  pinning.DefaultPinataAPI,
		Timeout: duration.DurationOption(30 * time.Second),
		Retries: 2,
	},
}

// LoadPinning returns the configured pinning gateway. For the local backend
// the store is also returned so it can be served.
func LoadPinning(c pinningConf) (pinning.Gateway, *pinning.LocalStore, error) {
	switch c.Backend {
	case PinningLocal:
		store, err := pinning.NewLocalStore(c.Local.Dir, c.Local.Gateway)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("gateway", c.Local.Gateway).Info("Loaded local pin store")
		return store, store, nil
	default:
		p, err := pinning.NewPinata(c.Pinata.PinataConfig())
		if err != nil {
			return nil, nil, err
		}
		log.Info("Loaded Pinata client")
		return p, nil, nil
	}
}
