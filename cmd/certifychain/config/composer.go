package config

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zachmann/go-utils/duration"

	"github.com/certifychain/certifychain/composer"
)

// ComposerConf configures the rendering of certificate images
type ComposerConf struct {
	// Template is a file path or an http(s) url of the background image; empty
	// renders a plain background
	Template        string                  `yaml:"template"`
	TemplateTimeout duration.DurationOption `yaml:"template_timeout"`
	Width           int                     `yaml:"width"`
	Height          int                     `yaml:"height"`
	DateLayout      string                  `yaml:"date_layout"`
	Quality         int                     `yaml:"quality"`
}

var defaultComposerConf = ComposerConf{
	TemplateTimeout: duration.DurationOption(composer.DefaultTemplateTimeout),
	Width:           composer.DefaultWidth,
	Height:          composer.DefaultHeight,
	DateLayout:      composer.DefaultDateLayout,
	Quality:         90,
}

// Options returns the composer options without the template
func (c ComposerConf) Options() composer.Options {
	return composer.Options{
		Width:      c.Width,
		Height:     c.Height,
		DateLayout: c.DateLayout,
		Quality:    c.Quality,
	}
}


// LoadComposer creates the certificate composer; the template is fetched
// once here
func LoadComposer(ctx context.Context, c ComposerConf) (*composer.Composer, error) {
	opts := c.Options()
	if c.Template != "" {
		tmpl, err := composer.LoadTemplate(ctx, c.Template, c.TemplateTimeout.Duration())
		if err != nil {
			return nil, errors.Wrap(err, "could not load certificate template")
		}
		opts.Template = tmpl
		log.WithField("template", c.Template).Info("Loaded certificate template")
	}
	return composer.New(opts)
}
