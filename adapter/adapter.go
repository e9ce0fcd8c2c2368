// Package adapter translates the option vocabulary of an HTTP client
// library into options.Options.
//
// Every adapter owns a closed Table of the option names it recognises. A
// name outside the table fails with *failure.UnsupportedFeatureError rather
// than being dropped.
package adapter

import (
	"sort"

	"go-php-cli/failure"
	"go-php-cli/options"
)

// Disposition says what an adapter does with a recognised option.
type Disposition int

const (
	// Translated options map onto options.Options.
	Translated Disposition = iota
	// Ignored options are meaningless without a network connection
	// (TLS, proxies, connect timeouts) and are accepted and dropped.
	Ignored
	// Internal options are consumed by the facade (sinks, response
	// shaping, protocol version) and copied into extras.
	Internal
)

func (d Disposition) String() string {
	switch d {
	case Translated:
		return "translated"
	case Ignored:
		return "ignored"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Table maps every recognised option name to its disposition.
type Table map[string]Disposition

// Supports reports whether name is in the table.
func (t Table) Supports(name string) bool {
	_, ok := t[name]
	return ok
}

// Names returns the recognised names, sorted.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check fails with an UnsupportedFeatureError for the first (in sorted
// order) option in opts that the table does not know.
func (t Table) Check(adapterName string, opts map[string]any) error {
	for _, name := range sortedKeys(opts) {
		if !t.Supports(name) {
			return &failure.UnsupportedFeatureError{Option: name, Adapter: adapterName}
		}
	}
	return nil
}

// Adapter is implemented by every library adapter.
type Adapter interface {
	// Name identifies the adapter in UnsupportedFeatureError.
	Name() string
	Transform(opts map[string]any) (*options.Options, error)
	SupportsOption(name string) bool
	SupportedOptions() []string
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
