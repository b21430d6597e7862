package config

import (
	"os"
	"time"

	"github.com/subosito/gotenv"
)

// DotenvConfig loads a dotenv file into the process environment and reads keys from there.
type DotenvConfig struct {
	DotenvPath string
	get        keyGetter
}

func NewDotenvConfig(path string) *DotenvConfig {
	return &DotenvConfig{DotenvPath: path, get: os.Getenv}
}

func (c *DotenvConfig) LoadFromPath(path string) error {
	c.DotenvPath = path
	return c.Load()
}

func (c *DotenvConfig) Load() error {
	if c.DotenvPath == "" {
		return nil
	}

	// OverLoad so a reload picks up edited values.
	return gotenv.OverLoad(c.DotenvPath)
}

func (c *DotenvConfig) getter() keyGetter {
	if c.get == nil {
		return os.Getenv
	}
	return c.get
}

func (c *DotenvConfig) GetKey(key string) string {
	return c.getter()(key)
}

func (c *DotenvConfig) MustGetKey(key string) string {
	return c.getter().mustGetKey(key)
}

func (c *DotenvConfig) GetKeyWithDefault(key, defaultValue string) string {
	return c.getter().getKeyWithDefault(key, defaultValue)
}

func (c *DotenvConfig) GetIntKey(key string) int {
	return c.getter().getIntKey(key)
}

func (c *DotenvConfig) MustGetIntKey(key string) int {
	return c.getter().mustGetIntKey(key)
}

func (c *DotenvConfig) GetIntKeyWithDefault(key string, defaultValue int) int {
	return c.getter().getIntKeyWithDefault(key, defaultValue)
}

func (c *DotenvConfig) GetBoolKeyWithDefault(key string, defaultValue bool) bool {
	return c.getter().getBoolKeyWithDefault(key, defaultValue)
}

func (c *DotenvConfig) GetDurationKeyWithDefault(key string, unit, defaultValue time.Duration) time.Duration {
	return c.getter().getDurationKeyWithDefault(key, unit, defaultValue)
}
