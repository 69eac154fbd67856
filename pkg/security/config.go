// Package security holds the TLS settings used when dialing an ESP server
// over https or wss.
package security

// ClientTLSConfig holds TLS configuration for REST and WebSocket clients.
// The system CA bundle is always loaded; CAFiles are additional trusted CAs.
type ClientTLSConfig struct {
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

// ClientMTLSConfig holds the client certificate presented to servers requiring mTLS
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// Configured reports whether any TLS setting beyond the defaults is present.
func (c ClientTLSConfig) Configured() bool {
	return len(c.CAFiles) > 0 || c.InsecureSkipVerify || c.MTLS.Enabled
}
