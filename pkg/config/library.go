package config

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// LibraryDescription is the physical tape library as reported by the library scan: which
// drives sit in which slots and which cartridges are loaded where.
type LibraryDescription struct {
	Drives     []DriveDescription     `mapstructure:"drives"`
	Cartridges []CartridgeDescription `mapstructure:"cartridges"`
}

type DriveDescription struct {
	ID      string `mapstructure:"id"`
	DevName string `mapstructure:"devname"`
	Slot    int    `mapstructure:"slot"`
}

type CartridgeDescription struct {
	ID   string `mapstructure:"id"`
	Slot int    `mapstructure:"slot"`

	// Capacity is human readable ("2.5TB"), parsed with go-humanize.
	Capacity string `mapstructure:"capacity"`
	Used     string `mapstructure:"used"`

	// MountedIn names the drive the cartridge is currently loaded in, if any.
	MountedIn string `mapstructure:"mounted_in"`
}

func (c CartridgeDescription) CapacityBytes() (total, remaining uint64, err error) {
	if total, err = humanize.ParseBytes(c.Capacity); err != nil {
		return 0, 0, errors.Wrapf(err, "cartridge %s: invalid capacity '%s'", c.ID, c.Capacity)
	}

	var used uint64
	if c.Used != "" {
		if used, err = humanize.ParseBytes(c.Used); err != nil {
			return 0, 0, errors.Wrapf(err, "cartridge %s: invalid used '%s'", c.ID, c.Used)
		}
	}

	if used > total {
		used = total
	}

	return total, total - used, nil
}

// LoadLibrary reads a library description in any format viper understands (yaml, toml, json).
func LoadLibrary(path string) (*LibraryDescription, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "unable to read library description %s", path)
	}

	var lib LibraryDescription
	if err := v.Unmarshal(&lib); err != nil {
		return nil, errors.Wrapf(err, "unable to parse library description %s", path)
	}

	return &lib, nil
}
