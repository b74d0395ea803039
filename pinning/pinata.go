package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultPinataAPI is the base url of the Pinata pinning api
const DefaultPinataAPI = "https://api.pinata.cloud"

// PinataConfig configures a Pinata client
type PinataConfig struct {
	APIURL  string
	JWT     string
	Gateway string
	Timeout time.Duration
	Retries int
}

// Pinata is a Gateway backed by the Pinata pinning api
type Pinata struct {
	client  *resty.Client
	gateway string
}

type pinataResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

type pinataMetadata struct {
	Name string `json:"name"`
}

type pinJSONRequest struct {
	Content  any            `json:"pinataContent"`
	Metadata pinataMetadata `json:"pinataMetadata"`
}

// NewPinata creates a new Pinata client
func NewPinata(conf PinataConfig) (*Pinata, error) {
	if conf.JWT == "" {
		return nil, errors.New("pinata jwt is required")
	}
	if conf.Gateway == "" {
		return nil, errors.New("pinata gateway is required")
	}
	if conf.APIURL == "" {
		conf.APIURL = DefaultPinataAPI
	}
	client := resty.New().
		SetBaseURL(conf.APIURL).
		SetAuthToken(conf.JWT).
		SetRetryCount(conf.Retries)
	if conf.Timeout > 0 {
		client.SetTimeout(conf.Timeout)
	}
	return &Pinata{
		client:  client,
		gateway: conf.Gateway,
	}, nil
}

// Client returns the underlying resty client
func (p *Pinata) Client() *resty.Client {
	return p.client
}

// UploadImage implements Gateway
func (p *Pinata) UploadImage(ctx context.Context, data []byte, filename string) (Pin, error) {
	meta, err := json.Marshal(pinataMetadata{Name: filename})
	if err != nil {
		return Pin{}, errors.WithStack(err)
	}
	var res pinataResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetMultipartFormData(map[string]string{"pinataMetadata": string(meta)}).
		SetResult(&res).
		Post("/pinning/pinFileToIPFS")
	return p.pin(resp, err, &res, filename)
}

// UploadJSON implements Gateway
func (p *Pinata) UploadJSON(ctx context.Context, doc any, name string) (Pin, error) {
	var res pinataResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(
			pinJSONRequest{
				Content:  doc,
				Metadata: pinataMetadata{Name: name},
			},
		).
		SetResult(&res).
		Post("/pinning/pinJSONToIPFS")
	return p.pin(resp, err, &res, name)
}

func (p *Pinata) pin(resp *resty.Response, err error, res *pinataResponse, name string) (Pin, error) {
	if err != nil {
		return Pin{}, errors.Wrap(err, "pinning request failed")
	}
	if resp.IsError() {
		return Pin{}, errors.Errorf("pinata responded with %d: %s", resp.StatusCode(), resp.String())
	}
	if res.IpfsHash == "" {
		return Pin{}, errors.New("pinata response did not contain a cid")
	}
	log.WithFields(
		log.Fields{
			"name": name,
			"cid":  res.IpfsHash,
			"size": res.PinSize,
		},
	).Debug("pinned object")
	return Pin{
		CID: res.IpfsHash,
		URL: GatewayLink(p.gateway, res.IpfsHash),
	}, nil
}
