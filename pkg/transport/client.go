package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

const DefaultTorSocks = "127.0.0.1:9050"

// Clients hands out shared HTTP clients: one for direct connections and one
// dialing through the Tor SOCKS5 proxy. Timeouts are carried by request contexts.
type Clients struct {
	TorSocks5 string

	once   sync.Once
	direct *http.Client

	torOnce sync.Once
	tor     *http.Client
	torErr  error
}

func New(torSocks string) *Clients {
	if torSocks == "" {
		torSocks = DefaultTorSocks
	}
	return &Clients{TorSocks5: torSocks}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 8 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// For returns the client for a node, dialing through Tor when tor is set.
func (c *Clients) For(tor bool) (*http.Client, error) {
	if !tor {
		c.once.Do(func() {
			c.direct = &http.Client{Transport: newTransport()}
		})
		return c.direct, nil
	}
	c.torOnce.Do(func() {
		dialer, err := proxy.SOCKS5("tcp", c.TorSocks5, nil, proxy.Direct)
		if err != nil {
			c.torErr = err
			return
		}
		tr := newTransport()
		tr.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		c.tor = &http.Client{Transport: tr}
	})
	return c.tor, c.torErr
}
