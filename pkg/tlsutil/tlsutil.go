// Package tlsutil builds crypto/tls client configurations for ESP connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/pkg/security"
)

// LoadClientTLSConfig creates the tls.Config shared by the REST session and
// the WebSocket dialer. CAFiles are trusted on top of the system pool.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	roots, err := rootPool(cfg.CAFiles)
	if err != nil {
		return nil, err
	}
	out := &tls.Config{
		MinVersion:         minVersion(cfg.MinVersion),
		RootCAs:            roots,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in for test servers
	}
	if cfg.MTLS.Enabled {
		pair, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}

func rootPool(caFiles []string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	for _, f := range caFiles {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "rootPool", "read CA file "+f)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, errors.WrapFatal(fmt.Errorf("no PEM certificates in %s", f), "tlsutil", "rootPool", "parse CA file")
		}
	}
	return pool, nil
}

// minVersion maps "1.3" to TLS 1.3; anything else is TLS 1.2
func minVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
