// Package pinning stores certificate images and metadata documents on IPFS
package pinning

import (
	"context"
	"strings"
)

// Pin is a pinned content-addressed object
type Pin struct {
	CID string `json:"cid"`
	URL string `json:"url"`
}

// Gateway uploads assets to a pinning service
type Gateway interface {
	// UploadImage pins raw file content and returns its link
	UploadImage(ctx context.Context, data []byte, filename string) (Pin, error)
	// UploadJSON pins doc encoded as JSON under the passed name
	UploadJSON(ctx context.Context, doc any, name string) (Pin, error)
}

// GatewayLink returns the public link of cid under the passed gateway. The
// gateway can be given as a host name or as a URL.
func GatewayLink(gateway, cid string) string {
	gateway = strings.TrimSuffix(strings.TrimSpace(gateway), "/")
	if !strings.HasPrefix(gateway, "http://") && !strings.HasPrefix(gateway, "https://") {
		gateway = "https://" + gateway
	}
	return gateway + "/ipfs/" + cid
}
