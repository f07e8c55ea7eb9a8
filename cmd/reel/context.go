package main

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mmcdole/reel/internal/app"
	"github.com/mmcdole/reel/internal/config"
	"github.com/mmcdole/reel/internal/log"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withApp opens the application for the duration of fn. Log records go to
// the configured file; a file that cannot be opened silences logging.
func (c *commandContext) withApp(fn func(*app.App, *slog.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logger, closer, err := log.Setup(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		logger, closer = log.NullLogger(), io.NopCloser(nil)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	a, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, logger)
}
