package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/mediaflow/blobxfer/internal/config"
	"github.com/mediaflow/blobxfer/internal/constants"
)

// CreateOptimizedClient creates an HTTP client for large block transfers with proxy support.
//
// The per-host connection limit is threads × concurrent transfers, so every
// worker of every running transfer can hold a connection without queueing.
// HTTP/2 is disabled when a proxy is active or DISABLE_HTTP2=true is set.
//
// If cfg is nil, proxy settings are read from the environment.
func CreateOptimizedClient(cfg *config.Config) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	var err error

	if cfg != nil {
		baseClient, err = ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	} else {
		baseClient = &nethttp.Client{Transport: newTransport()}
		baseClient.Transport.(*nethttp.Transport).Proxy = nethttp.ProxyFromEnvironment
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM mode wraps the transport in ntlmssp.Negotiator; the inner
		// transport was already tuned by ConfigureHTTPClient.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	maxConns := MaxConnsPerHost(cfg)
	tr.MaxIdleConns = maxConns * 2
	tr.MaxIdleConnsPerHost = maxConns
	tr.MaxConnsPerHost = maxConns

	tr.DisableCompression = true // block payloads are opaque bytes
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0 // each block operation sets its own deadline
	return baseClient, nil
}

// MaxConnsPerHost returns threads × concurrent transfers for cfg, or the defaults when nil.
func MaxConnsPerHost(cfg *config.Config) int {
	threads := constants.DefaultParallelTransferThreadCount
	concurrent := constants.DefaultNumberOfConcurrentTransfers
	if cfg != nil {
		if cfg.Transfer.Threads > 0 {
			threads = cfg.Transfer.Threads
		}
		if cfg.Transfer.Concurrent > 0 {
			concurrent = cfg.Transfer.Concurrent
		}
	}
	return threads * concurrent
}

func proxyActive(cfg *config.Config) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch cfg.Proxy.Mode {
	case "no-proxy", "":
		return false
	case "system":
		return envProxy
	default:
		return true
	}
}
