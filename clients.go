package main

import (
	"github.com/tonimelisma/tower/internal/registry"
	"github.com/tonimelisma/tower/internal/transfer"
)

// newRegistryClient builds the registry client from the [backend] section.
func newRegistryClient(cc *CLIContext) *registry.Client {
	return registry.NewClient(&registry.ClientConfig{
		BaseURL:           cc.Cfg.Backend.URL,
		Timeout:           cc.Cfg.BackendTimeout(),
		MaxRetries:        cc.Cfg.Backend.MaxRetries,
		RequestsPerSecond: cc.Cfg.Backend.RequestsPerSecond,
		Logger:            cc.Logger,
	})
}

// requireBackend returns ErrNotConfigured when no registry URL is set.
// Read-only commands need the URL but not a device identity.
func (cc *CLIContext) requireBackend() error {
	if cc.Cfg.Backend.URL == "" {
		return cc.requireConfigured()
	}

	return nil
}

// newFetcher builds the SSH fetcher from the [transfer] section.
func newFetcher(cc *CLIContext) *transfer.Fetcher {
	cfg := cc.Cfg

	return transfer.NewFetcher(&transfer.Config{
		KeyPath:               cfg.TransferKeyPath(),
		Port:                  cfg.Transfer.Port,
		KnownHostsPath:        cfg.KnownHostsPath(),
		InsecureIgnoreHostKey: cfg.Transfer.InsecureIgnoreHostKey,
		Logger:                cc.Logger,
	})
}
