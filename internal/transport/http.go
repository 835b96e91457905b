// Package transport provides the concrete net/http implementation of
// internal/fetch's Transport interface. HTTP is an external collaborator
// per scope — this package is the only place in the module that imports
// net/http for outbound requests, wired in at cmd/tako exactly as the
// teacher wires its concrete docker.Client into the docker.API interface
// at cmd/sentinel/main.go.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/takodist/tako/internal/errs"
	"github.com/takodist/tako/internal/fetch"
)

// HTTP is a fetch.Transport backed by net/http. The zero value is usable;
// Client defaults to http.DefaultClient lazily.
type HTTP struct {
	Client *http.Client
}

// New returns an HTTP transport using client, or http.DefaultClient if nil.
func New(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{Client: client}
}

func (h *HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

// GetManifest fetches originURL+"manifest", refusing to buffer more than
// maxBytes.
func (h *HTTP) GetManifest(ctx context.Context, originURL string, maxBytes int64) ([]byte, error) {
	url := joinURL(originURL, "manifest")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, &errs.DownloadError{Msg: "downloading manifest", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errs.DownloadError{Msg: fmt.Sprintf("unexpected status %d fetching manifest", resp.StatusCode)}
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, &errs.DownloadError{Msg: "reading manifest body", Err: err}
	}
	if int64(len(body)) > maxBytes {
		return nil, &errs.OperationError{Msg: "remote manifest exceeds size ceiling"}
	}
	return body, nil
}

// GetBlob opens a streaming GET of originURL+"store/"+hexDigest.
func (h *HTTP) GetBlob(ctx context.Context, originURL, hexDigest string) (io.ReadCloser, int64, error) {
	url := joinURL(originURL, "store/"+hexDigest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build blob request: %w", err)
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return nil, 0, &errs.DownloadError{Msg: "downloading blob", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, &errs.DownloadError{Msg: fmt.Sprintf("unexpected status %d fetching blob", resp.StatusCode)}
	}
	length := resp.ContentLength
	if length < 0 {
		length = 0
	}
	return resp.Body, length, nil
}

func joinURL(origin, suffix string) string {
	if strings.HasSuffix(origin, "/") {
		return origin + suffix
	}
	return origin + "/" + suffix
}

// DefaultTimeout is the connect/TLS/header timeout applied by NewDefaultClient.
// The core imposes no read timeout on the body itself (spec: "the transport
// layer is expected to fail eventually"), so only the early handshake phases
// are bounded here.
const DefaultTimeout = 30 * time.Second

// NewDefaultClient builds an *http.Client with a conservative handshake
// timeout and no overall request deadline, leaving long blob downloads
// uninterrupted.
func NewDefaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: DefaultTimeout}).DialContext,
			TLSHandshakeTimeout:   DefaultTimeout,
			ResponseHeaderTimeout: DefaultTimeout,
		},
	}
}

var _ fetch.Transport = (*HTTP)(nil)
