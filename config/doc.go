// Package config provides the explicit configuration object used by espclient.
//
// A Config carries the server connection settings, subscriber and publisher
// defaults, logging, metrics and bridge sections. Nothing in espclient reads
// process-global state: callers build a Config (usually through a Loader) and
// pass the pieces they need to constructors.
//
// # Loading
//
//	loader := config.NewLoader()
//	loader.AddLayer("espclient.yaml")
//	loader.AddLayer("espclient.production.yaml") // overrides the base layer
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//
// Layers are YAML or JSON and are deep merged in order. Environment variables
// are applied last: ESPHOST, ESPPORT, ESPPROTOCOL, ESPUSER and ESPPASSWORD set
// the connection, and ESPCLIENT_* variables cover the remaining sections.
//
// For quick scripts ConnectionFromEnv returns connection settings from the
// environment alone.
package config
