package config

import (
	"fmt"
	"sync"
	"time"
)

// MapConfig serves keys from memory. Tests use it in place of a dotenv file.
type MapConfig struct {
	configValues sync.Map
}

func NewMapConfig(entries map[string]string) *MapConfig {
	c := &MapConfig{}

	for key, entry := range entries {
		c.configValues.Store(key, entry)
	}

	return c
}

func (c *MapConfig) Set(key, value string) {
	c.configValues.Store(key, value)
}

func (c *MapConfig) LoadFromPath(_ string) error {
	return fmt.Errorf("LoadFromPath not supported for MapConfig")
}

func (c *MapConfig) Load() error {
	return nil
}

func (c *MapConfig) GetKey(key string) string {
	v, ok := c.configValues.Load(key)
	if !ok || v == nil {
		return ""
	}

	return v.(string)
}

func (c *MapConfig) MustGetKey(key string) string {
	return keyGetter(c.GetKey).mustGetKey(key)
}

func (c *MapConfig) GetKeyWithDefault(key, defaultValue string) string {
	return keyGetter(c.GetKey).getKeyWithDefault(key, defaultValue)
}

func (c *MapConfig) GetIntKey(key string) int {
	return keyGetter(c.GetKey).getIntKey(key)
}

func (c *MapConfig) MustGetIntKey(key string) int {
	return keyGetter(c.GetKey).mustGetIntKey(key)
}

func (c *MapConfig) GetIntKeyWithDefault(key string, defaultValue int) int {
	return keyGetter(c.GetKey).getIntKeyWithDefault(key, defaultValue)
}

func (c *MapConfig) GetBoolKeyWithDefault(key string, defaultValue bool) bool {
	return keyGetter(c.GetKey).getBoolKeyWithDefault(key, defaultValue)
}

func (c *MapConfig) GetDurationKeyWithDefault(key string, unit, defaultValue time.Duration) time.Duration {
	return keyGetter(c.GetKey).getDurationKeyWithDefault(key, unit, defaultValue)
}
