// Package rest implements the HTTP side of the ESP client: parameter encoding,
// the server error envelope and a Session issuing authenticated requests
// relative to the /SASESP/ base URL.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/metric"
	"github.com/c360/espclient/pkg/tlsutil"
	"github.com/c360/espclient/xmltree"
)

const maxResponseSize = 64 << 20

// Session issues requests against one ESP server
type Session struct {
	base       *url.URL
	client     *http.Client
	tlsConfig  *tls.Config
	authHeader string
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// Option configures a Session
type Option func(*Session)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		s.client = c
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records request counts and durations
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// NewSession creates a session for the configured server
func NewSession(cfg config.ConnectionConfig, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.BaseURL())
	if err != nil {
		return nil, errors.WrapInvalid(err, "Session", "NewSession", "parse base URL")
	}

	s := &Session{
		base:       base,
		authHeader: AuthHeader(cfg.User, cfg.Password),
		logger:     slog.Default(),
	}

	if base.Scheme == "https" {
		s.tlsConfig, err = tlsutil.LoadClientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = s.tlsConfig
	s.client = &http.Client{Timeout: timeout, Transport: transport}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "rest", "server", base.Host)
	return s, nil
}

// AuthHeader returns the Authorization value: Basic when user and password are
// set, Bearer when only a password (token) is set, else "".
func AuthHeader(user, password string) string {
	switch {
	case user != "" && password != "":
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
	case password != "":
		return "Bearer " + password
	default:
		return ""
	}
}

// BaseURL returns the REST base ending in "/SASESP/"
func (s *Session) BaseURL() string {
	return s.base.String()
}

// TLSConfig returns the client TLS settings, nil for plain http
func (s *Session) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// Header returns headers carrying the session credentials
func (s *Session) Header() http.Header {
	h := http.Header{}
	if s.authHeader != "" {
		h.Set("Authorization", s.authHeader)
	}
	return h
}

// Logger returns the session logger
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Metrics returns the metrics sink, possibly nil
func (s *Session) Metrics() *metric.Metrics {
	return s.metrics
}

// URL resolves path against the base URL and appends params. Absolute http(s)
// paths are used as given.
func (s *Session) URL(path string, params *Params) string {
	var u string
	switch {
	case strings.HasPrefix(path, "http:") || strings.HasPrefix(path, "https:"):
		u = path
	case path == "":
		u = s.base.String()
	default:
		ref, err := url.Parse(path)
		if err != nil {
			u = s.base.String() + strings.TrimPrefix(path, "/")
		} else {
			u = s.base.ResolveReference(ref).String()
		}
	}
	return AppendQuery(u, params)
}

// SocketURL resolves path like URL but with the ws or wss scheme used by the
// subscriber, publisher and projectStats sockets.
func (s *Session) SocketURL(path string, params *Params) string {
	u := s.URL(path, params)
	switch {
	case strings.HasPrefix(u, "https:"):
		return "wss:" + strings.TrimPrefix(u, "https:")
	case strings.HasPrefix(u, "http:"):
		return "ws:" + strings.TrimPrefix(u, "http:")
	}
	return u
}

// Request describes one REST call
type Request struct {
	Method      string
	Path        string
	Params      *Params
	Body        []byte
	ContentType string
	Accept      string
}

// Do sends req and returns the response body. Status codes >= 400 return a
// *errors.ServerError built from the response envelope.
func (s *Session) Do(ctx context.Context, req Request) ([]byte, error) {
	target := s.URL(req.Path, req.Params)

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Session", "Do", "create request")
	}

	if s.authHeader != "" {
		httpReq.Header.Set("Authorization", s.authHeader)
	}
	if req.Body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = detectContentType(req.Body)
		}
		httpReq.Header.Set("Content-Type", ct)
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.metrics.ObserveRequest(req.Method, 0, time.Since(start))
		s.logger.Debug("ESP request failed", "method", req.Method, "url", target, "error", err)
		return nil, errors.WrapTransient(err, "Session", "Do", fmt.Sprintf("%s %s", req.Method, req.Path))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	s.metrics.ObserveRequest(req.Method, resp.StatusCode, time.Since(start))
	s.logger.Debug("ESP request", "method", req.Method, "url", target,
		"status", resp.StatusCode, "duration", time.Since(start))
	if err != nil {
		return nil, errors.WrapTransient(err, "Session", "Do", "read response body")
	}

	if resp.StatusCode >= 400 {
		return nil, ParseError(resp.StatusCode, target, data)
	}
	return data, nil
}

func detectContentType(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return "application/xml"
	case bytes.HasPrefix(trimmed, []byte("{")), bytes.HasPrefix(trimmed, []byte("[")):
		return "application/json"
	default:
		return "text/plain"
	}
}

func (s *Session) xml(ctx context.Context, req Request) (*xmltree.Element, error) {
	data, err := s.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &xmltree.Element{Tag: "response"}, nil
	}
	root, err := xmltree.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "Session", req.Method, "parse response from "+req.Path)
	}
	return root, nil
}

// Get issues a GET and parses the XML response
func (s *Session) Get(ctx context.Context, path string, params *Params) (*xmltree.Element, error) {
	return s.xml(ctx, Request{Method: http.MethodGet, Path: path, Params: params})
}

// GetRaw issues a GET and returns the body
func (s *Session) GetRaw(ctx context.Context, path string, params *Params) ([]byte, error) {
	return s.Do(ctx, Request{Method: http.MethodGet, Path: path, Params: params})
}

// GetJSON issues a GET with Accept: application/json and decodes into out
func (s *Session) GetJSON(ctx context.Context, path string, params *Params, out any) error {
	data, err := s.Do(ctx, Request{Method: http.MethodGet, Path: path, Params: params, Accept: "application/json"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WrapInvalid(err, "Session", "GetJSON", "decode response from "+path)
	}
	return nil
}

// Put issues a PUT with an optional body and parses the XML response
func (s *Session) Put(ctx context.Context, path string, params *Params, body []byte) (*xmltree.Element, error) {
	return s.xml(ctx, Request{Method: http.MethodPut, Path: path, Params: params, Body: body})
}

// Post issues a POST with an optional body and parses the XML response
func (s *Session) Post(ctx context.Context, path string, params *Params, body []byte) (*xmltree.Element, error) {
	return s.xml(ctx, Request{Method: http.MethodPost, Path: path, Params: params, Body: body})
}

// Delete issues a DELETE and parses the XML response
func (s *Session) Delete(ctx context.Context, path string, params *Params) (*xmltree.Element, error) {
	return s.xml(ctx, Request{Method: http.MethodDelete, Path: path, Params: params})
}
