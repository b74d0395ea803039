package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zachmann/go-utils/fileutils"
	"gopkg.in/yaml.v3"

	"github.com/certifychain/certifychain"
)

// EnvPrefix is the prefix of environment variables overriding configuration
// values
const EnvPrefix = "certifychain"

// Config holds the configuration of the certifychain server
type Config struct {
	// ExternalURL is the url the server is reachable at
	ExternalURL string                  `yaml:"external_url"`
	Server      certifychain.ServerConf `yaml:"server"`
	Logging     loggingConf             `yaml:"logging"`
	Storage     storageConf             `yaml:"storage"`
	Caching     CachingConf             `yaml:"caching"`
	Chain       chainConf               `yaml:"chain"`
	Pinning     pinningConf             `yaml:"pinning"`
	Composer    ComposerConf            `yaml:"composer"`
	Auth        authConf                `yaml:"auth"`
	Issuance    issuanceConf            `yaml:"issuance"`
	Endpoints   Endpoints               `yaml:"endpoints"`
}

// envOverrides are the values that can be set from the environment, mostly
// secrets that should not live in the config file
type envOverrides struct {
	ExternalURL        string `envconfig:"EXTERNAL_URL"`
	LogLevel           string `envconfig:"LOG_LEVEL"`
	RPCURL             string `envconfig:"CHAIN_RPC_URL"`
	PrivateKey         string `envconfig:"CHAIN_PRIVATE_KEY"`
	KeystorePassphrase string `envconfig:"CHAIN_KEYSTORE_PASSPHRASE"`
	PinataJWT          string `envconfig:"PINATA_JWT"`
	AuthSecret         string `envconfig:"AUTH_SECRET"`
	StorageDSN         string `envconfig:"STORAGE_DSN"`
	StoragePassword    string `envconfig:"STORAGE_PASSWORD"`
	RedisPassword      string `envconfig:"REDIS_PASSWORD"`
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return errors.Wrap(err, "error processing environment")
	}
	setIfNotEmpty(&c.ExternalURL, env.ExternalURL)
	setIfNotEmpty(&c.Logging.Internal.Level, env.LogLevel)
	setIfNotEmpty(&c.Chain.RPCURL, env.RPCURL)
	setIfNotEmpty(&c.Chain.Wallet.PrivateKey, env.PrivateKey)
	setIfNotEmpty(&c.Chain.Wallet.Passphrase, env.KeystorePassphrase)
	setIfNotEmpty(&c.Pinning.Pinata.JWT, env.PinataJWT)
	setIfNotEmpty(&c.Auth.Secret, env.AuthSecret)
	setIfNotEmpty(&c.Storage.DSN, env.StorageDSN)
	setIfNotEmpty(&c.Storage.Password, env.StoragePassword)
	setIfNotEmpty(&c.Caching.Password, env.RedisPassword)
	return nil
}

var defaultConfig = Config{
	Server: certifychain.ServerConf{
		Port: 8080,
	},
	Logging:   defaultLoggingConf,
	Storage:   defaultStorageConf,
	Caching:   defaultCachingConf,
	Chain:     defaultChainConf,
	Pinning:   defaultPinningConf,
	Composer:  defaultComposerConf,
	Auth:      defaultAuthConf,
	Issuance:  defaultIssuanceConf,
	Endpoints: defaultEndpoints,
}

func (c *Config) validate() error {
	if c.ExternalURL == "" {
		return errors.New("external_url must be specified")
	}
	c.ExternalURL = strings.TrimSuffix(c.ExternalURL, "/")
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Chain.validate(); err != nil {
		return err
	}
	if err := c.Pinning.validate(); err != nil {
		return err
	}
	if c.Pinning.Backend == PinningLocal {
		if c.Endpoints.IPFS.Path == "" && c.Pinning.Local.Gateway == "" {
			return errors.New("error in pinning conf: the local backend needs endpoints.ipfs or local.gateway")
		}
		if c.Pinning.Local.Gateway == "" {
			// links are built as <gateway>/ipfs/<cid>
			if !strings.HasSuffix(c.Endpoints.IPFS.Path, "/ipfs") {
				return errors.New("error in pinning conf: endpoints.ipfs.path must end with /ipfs")
			}
			c.Pinning.Local.Gateway = strings.TrimSuffix(
				c.Endpoints.IPFS.ValidateURL(c.ExternalURL), "/ipfs",
			)
		}
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	if err := c.Issuance.validate(c.ExternalURL); err != nil {
		return err
	}
	return nil
}

var conf *Config

// Get returns the loaded Config
func Get() *Config {
	return conf
}

var possibleConfigLocations = []string{
	".",
	"config",
	"/config",
	"/etc/certifychain",
}

func findConfigFile(filename string) (string, error) {
	if filename != "" {
		if !fileutils.FileExists(filename) {
			return "", errors.Errorf("config file '%s' does not exist", filename)
		}
		return filename, nil
	}
	for _, dir := range possibleConfigLocations {
		for _, name := range []string{"config.yaml", "certifychain.yaml"} {
			p := filepath.Join(dir, name)
			if fileutils.FileExists(p) {
				return p, nil
			}
		}
	}
	return "", errors.New("could not find config file in any of the possible locations")
}

// Parse parses and validates the passed yaml data; defaults are applied to
// all unset values and environment overrides on top
func Parse(data []byte) (*Config, error) {
	c := defaultConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "could not parse config")
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load loads the config from the passed file or from the first config file
// found in the possible config locations. Errors are fatal.
func Load(filename string) {
	path, err := findConfigFile(filename)
	if err != nil {
		log.WithError(err).Fatal("could not load config")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Fatal("could not read config file")
	}
	c, err := Parse(data)
	if err != nil {
		log.WithError(err).WithField("file", path).Fatal("invalid config")
	}
	conf = c
}
