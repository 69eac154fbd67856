package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"ESP Test"}, CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}), 0600))
	return certFile, keyFile
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{})
		require.NoError(t, err)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		assert.NotNil(t, cfg.RootCAs)
		assert.False(t, cfg.InsecureSkipVerify)
	})

	t.Run("extra CA and TLS 1.3", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{certFile}, MinVersion: "1.3"})
		require.NoError(t, err)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	})

	t.Run("missing CA file", func(t *testing.T) {
		_, err := LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{"/nonexistent/ca.pem"}})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("invalid PEM", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.pem")
		require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0644))
		_, err := LoadClientTLSConfig(security.ClientTLSConfig{CAFiles: []string{bad}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no PEM certificates")
	})

	t.Run("missing client key", func(t *testing.T) {
		_, err := LoadClientTLSConfig(security.ClientTLSConfig{
			MTLS: security.ClientMTLSConfig{Enabled: true, CertFile: certFile, KeyFile: "/nonexistent/key.pem"},
		})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("mtls", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(security.ClientTLSConfig{
			InsecureSkipVerify: true,
			MTLS:               security.ClientMTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile},
		})
		require.NoError(t, err)
		assert.True(t, cfg.InsecureSkipVerify)
		assert.Len(t, cfg.Certificates, 1)
	})
}
