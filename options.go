package freezer

import "github.com/freezerdb/freezer/internal/config"

// options collects everything an Option can set before Open runs.
type options struct {
	config         config.Config
	manifestSource string
	hasManifest    bool
}

// Option configures a Store at construction time.
type Option func(*options)

// WithConfig overrides the default pragma configuration (busy
// timeout, cache size, page size).
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithAttributeManifest parses cueSource as an attribute manifest
// (SPEC_FULL §3) and applies its entries via Transactor.AddAttribute,
// in manifest order, inside one write transaction at store open.
func WithAttributeManifest(cueSource string) Option {
	return func(o *options) {
		o.manifestSource = cueSource
		o.hasManifest = true
	}
}

func newOptions(opts []Option) options {
	o := options{config: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
