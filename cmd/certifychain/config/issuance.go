package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/duration"

	"github.com/certifychain/certifychain/issuance"
)

// issuanceConf configures the issuance workflow
type issuanceConf struct {
	// PublicBaseURL is the base of verification links; it defaults to the
	// server's external url
	PublicBaseURL string `yaml:"public_base_url"`
	// ExternalURL is written to the external_url of metadata documents; it
	// defaults to PublicBaseURL
	ExternalURL    string                  `yaml:"external_url"`
	RunLifetime    duration.DurationOption `yaml:"run_lifetime"`
	StepTimeout    duration.DurationOption `yaml:"step_timeout"`
	ConfirmTimeout duration.DurationOption `yaml:"confirm_timeout"`
	VerifyTokenURI bool                    `yaml:"verify_token_uri"`
}

func (c *issuanceConf) validate(externalURL string) error {
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = externalURL
	}
	if c.PublicBaseURL == "" {
		return errors.New("error in issuance conf: public_base_url must be specified")
	}
	if c.ExternalURL == "" {
		c.ExternalURL = c.PublicBaseURL
	}
	return nil
}

// WorkflowConfig returns the configuration of the issuance workflow
func (c issuanceConf) WorkflowConfig() issuance.Config {
	return issuance.Config{
		PublicBaseURL:  c.PublicBaseURL,
		ExternalURL:    c.ExternalURL,
		RunLifetime:    c.RunLifetime.Duration(),
		StepTimeout:    c.StepTimeout.Duration(),
		ConfirmTimeout: c.ConfirmTimeout.Duration(),
		VerifyTokenURI: c.VerifyTokenURI,
	}
}

var defaultIssuanceConf = issuanceConf{
	RunLifetime:    duration.DurationOption(2 * time.Hour),
	StepTimeout:    duration.DurationOption(time.Minute),
	ConfirmTimeout: duration.DurationOption(5 * time.Minute),
	VerifyTokenURI: true,
}
