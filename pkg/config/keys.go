package config

import (
	"strconv"
	"time"

	"github.com/apex/log"
)

// keyGetter is the one primitive a Configer implementation provides, the typed
// accessors below are shared between implementations.
type keyGetter func(key string) string

func (get keyGetter) mustGetKey(key string) string {
	val := get(key)
	if val == "" {
		log.Fatalf("No such required config key: '%s'", key)
	}

	return val
}

func (get keyGetter) getKeyWithDefault(key, defaultValue string) string {
	val := get(key)
	if val == "" {
		return defaultValue
	}

	return val
}

func (get keyGetter) getIntKey(key string) int {
	return get.getIntKeyWithDefault(key, 0)
}

func (get keyGetter) mustGetIntKey(key string) int {
	intVal, err := strconv.Atoi(get(key))
	if err != nil {
		log.Fatalf("Required config key either doesn't exist or isn't an int: '%s': %s", key, err)
	}

	return intVal
}

func (get keyGetter) getIntKeyWithDefault(key string, defaultValue int) int {
	intVal, err := strconv.Atoi(get(key))
	if err != nil {
		return defaultValue
	}

	return intVal
}

func (get keyGetter) getBoolKeyWithDefault(key string, defaultValue bool) bool {
	boolVal, err := strconv.ParseBool(get(key))
	if err != nil {
		return defaultValue
	}

	return boolVal
}

// getDurationKeyWithDefault accepts either a Go duration ("1m30s") or a bare number
// counted in unit.
func (get keyGetter) getDurationKeyWithDefault(key string, unit, defaultValue time.Duration) time.Duration {
	val := get(key)
	if val == "" {
		return defaultValue
	}

	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(n) * unit
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warnf("Config key '%s' has invalid duration '%s', using %s", key, val, defaultValue)
		return defaultValue
	}

	return d
}
