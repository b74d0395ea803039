package composer

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultTemplateTimeout bounds the loading of a remote template
const DefaultTemplateTimeout = 10 * time.Second

// LoadTemplate loads and decodes the background template from a file path or
// an http(s) url. Loading completes or fails within timeout.
func LoadTemplate(ctx context.Context, source string, timeout time.Duration) (image.Image, error) {
	if timeout <= 0 {
		timeout = DefaultTemplateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var data []byte
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := resty.New().R().SetContext(ctx).Get(source)
		if err != nil {
			return nil, errors.Wrapf(err, "could not load template from %s", source)
		}
		if resp.IsError() {
			return nil, errors.Errorf("could not load template from %s: status %d", source, resp.StatusCode())
		}
		data = resp.Body()
	} else {
		var err error
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, errors.Wrap(err, "could not read template")
		}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "could not decode template")
	}
	log.WithFields(
		log.Fields{
			"source": source,
			"format": format,
			"size":   img.Bounds().Size().String(),
		},
	).Info("loaded certificate template")
	return img, nil
}
