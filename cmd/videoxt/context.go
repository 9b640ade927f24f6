package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"videoxt/internal/client"
	"videoxt/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
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

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// baseURL resolves the daemon address: the --api flag wins over api_bind.
func (c *commandContext) baseURL() (string, error) {
	if c.apiFlag != nil {
		if value := strings.TrimSpace(*c.apiFlag); value != "" {
			if !strings.Contains(value, "://") {
				value = "http://" + value
			}
			return value, nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.APIBaseURL(), nil
}

func (c *commandContext) client() (*client.Client, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	return client.New(base, nil), nil
}

// withClient runs fn with a daemon client and rewrites connection failures
// into an actionable message.
func (c *commandContext) withClient(fn func(*client.Client) error) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := fn(cl); err != nil {
		return wrapClientError(err, cl.BaseURL())
	}
	return nil
}

func wrapClientError(err error, base string) error {
	if client.IsUnavailable(err) {
		return fmt.Errorf("connect to daemon: %s is not answering; start it with `videoxt serve` or `videoxtd`: %w", base, err)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
