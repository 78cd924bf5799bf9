package workflow

import (
	"github.com/insilichem/tangram-nciplot/internal/config"
	"github.com/insilichem/tangram-nciplot/internal/runner"
)

// FromConfig builds a Controller for the installation described by cfg.
// o.Launcher is replaced and o.OnStatus goes to the runner. o.WorkDir
// defaults to cfg.WorkDir. It returns a *runner.ConfigurationError when the
// binary or dat directory is unusable.
func FromConfig(cfg *config.Config, o Options) (*Controller, error) {
	r, err := runner.New(cfg.Binary, cfg.DatDir)
	if err != nil {
		return nil, err
	}
	r.Timeout = cfg.Timeout()
	r.MaxOutput = cfg.MaxOutputBytes()
	r.Logger = o.Logger
	r.OnStatus = o.OnStatus

	o.Launcher = r
	if o.WorkDir == "" {
		o.WorkDir = cfg.WorkDir
	}
	return New(o), nil
}
