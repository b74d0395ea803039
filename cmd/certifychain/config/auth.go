package config

import (
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/duration"

	"github.com/certifychain/certifychain/api/portalapi"
)

// authConf configures the wallet login of the portal api
type authConf struct {
	Issuer            string                  `yaml:"issuer"`
	Secret            string                  `yaml:"secret"`
	Alg               string                  `yaml:"alg"`
	Algorithm         jwa.SignatureAlgorithm  `yaml:"-"`
	SessionLifetime   duration.DurationOption `yaml:"session_lifetime"`
	ChallengeLifetime duration.DurationOption `yaml:"challenge_lifetime"`
}

var hmacAlgorithms = map[string]bool{
	jwa.HS256().String(): true,
	jwa.HS384().String(): true,
	jwa.HS512().String(): true,
}

func (c *authConf) validate() error {
	var ok bool
	c.Algorithm, ok = jwa.LookupSignatureAlgorithm(c.Alg)
	if !ok {
		return errors.New("error in auth conf: unknown algorithm " + c.Alg)
	}
	if !hmacAlgorithms[c.Algorithm.String()] {
		return errors.Errorf("error in auth conf: session tokens need an HMAC algorithm, got %s", c.Alg)
	}
	if len(c.Secret) < 32 {
		return errors.New("error in auth conf: secret must be at least 32 characters")
	}
	return nil
}

// AuthConfig returns the configuration of the api login
func (c authConf) AuthConfig() portalapi.AuthConfig {
	return portalapi.AuthConfig{
		Issuer:            c.Issuer,
		Secret:            []byte(c.Secret),
		Algorithm:         c.Algorithm,
		SessionLifetime:   c.SessionLifetime.Duration(),
		ChallengeLifetime: c.ChallengeLifetime.Duration(),
	}
}

var defaultAuthConf = authConf{
	Issuer:            "certifychain",
	Alg:               "HS256",
	SessionLifetime:   duration.DurationOption(12 * time.Hour),
	ChallengeLifetime: duration.DurationOption(5 * time.Minute),
}
