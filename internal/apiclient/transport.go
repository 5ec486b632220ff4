package apiclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	xproxy "golang.org/x/net/proxy"
)

// newTransport builds the outbound transport for one egress path. An empty
// proxy URL means a direct connection. With fingerprinting on, direct TLS
// connections present a Chrome ClientHello instead of the Go default.
//
// Proxied HTTPS requests tunnel through CONNECT and use the standard TLS
// stack; the fingerprint applies to direct connections only.
func newTransport(proxyURL string, fingerprint bool) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			var auth *xproxy.Auth
			if u.User != nil {
				pass, _ := u.User.Password()
				auth = &xproxy.Auth{User: u.User.Username(), Password: pass}
			}
			d, err := xproxy.SOCKS5("tcp", u.Host, auth, dialer)
			if err != nil {
				return nil, fmt.Errorf("socks5 dialer: %w", err)
			}
			if cd, ok := d.(xproxy.ContextDialer); ok {
				tr.DialContext = cd.DialContext
			} else {
				tr.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return d.Dial(network, addr)
				}
			}
		default:
			tr.Proxy = http.ProxyURL(u)
		}
	}

	if fingerprint {
		base := tr.DialContext
		tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialUTLS(ctx, network, addr, base)
		}
		// DialTLSContext hands back a finished connection, so the
		// transport must not attempt its own h2 upgrade.
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	return tr, nil
}

// dialUTLS performs a TLS handshake with a Chrome ClientHello, with ALPN
// restricted to HTTP/1.1 to match what the transport actually speaks.
func dialUTLS(ctx context.Context, network, addr string,
	dial func(context.Context, string, string) (net.Conn, error)) (net.Conn, error) {

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	raw, err := dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls preset: %w", err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := conn.ApplyPreset(&spec); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls preset: %w", err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return conn, nil
}
