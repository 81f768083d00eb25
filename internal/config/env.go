package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Env holds the settings that can be supplied through environment variables.
type Env struct {
	HostPath         string        `env:"WORKERBRIDGE_HOST_PATH"`
	HostURL          string        `env:"WORKERBRIDGE_HOST_URL"`
	RequestTimeout   time.Duration `env:"WORKERBRIDGE_REQUEST_TIMEOUT"`
	CloseTimeout     time.Duration `env:"WORKERBRIDGE_CLOSE_TIMEOUT"`
	SkipVersionCheck bool          `env:"WORKERBRIDGE_SKIP_VERSION_CHECK"`
}

// LoadEnv parses the bridge environment variables.
func LoadEnv() (*Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &e, nil
}

// ApplyEnv fills unset options from the environment.
// Values set explicitly on the options always win.
func (o *Options) ApplyEnv(e *Env) {
	if e == nil {
		return
	}

	if o.HostPath == "" {
		o.HostPath = e.HostPath
	}

	if o.HostURL == "" {
		o.HostURL = e.HostURL
	}

	if o.RequestTimeout == 0 {
		o.RequestTimeout = e.RequestTimeout
	}

	if o.CloseTimeout == 0 {
		o.CloseTimeout = e.CloseTimeout
	}

	if e.SkipVersionCheck {
		o.SkipVersionCheck = true
	}
}
