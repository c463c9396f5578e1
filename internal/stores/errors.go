package stores

import "errors"

var (
	// ErrUnsupportedStore is returned by Resolve when no classifier is registered for a domain.
	ErrUnsupportedStore = errors.New("unsupported store")
	// ErrUnexpectedDomain means a classifier was handed a page from another domain.
	// It indicates a registry misconfiguration.
	ErrUnexpectedDomain = errors.New("classifier invoked for unexpected domain")
	ErrDuplicateDomain  = errors.New("classifier already registered for domain")
)
