// Package config holds the provisioning Settings (build directory, SSH
// tuning, the machine inventory and the step plan) and the stores they are
// read from.
package config

import (
	"errors"
	"fmt"

	"github.com/andrej220/provchain/pkg/config/configstore"
	"github.com/andrej220/provchain/pkg/config/filestore"
	"github.com/andrej220/provchain/pkg/config/mongostore"
	"github.com/spf13/afero"
)

// StoreType selects where Settings documents are kept.
type StoreType int

const (
	// FileStore reads a YAML file and reports edits through Watch, so a
	// running provisioner picks up new machines or plans without a restart.
	FileStore StoreType = iota
	// MongoStore reads one document from a collection. Watch is a no-op.
	MongoStore
)

func (t StoreType) String() string {
	switch t {
	case FileStore:
		return "file"
	case MongoStore:
		return "mongo"
	default:
		return fmt.Sprintf("StoreType(%d)", int(t))
	}
}

var (
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrNoLocation       = errors.New("store location not set")
)

// Config is a settings store. LoadSettings decodes it, and the provisioner
// re-decodes it whenever Watch fires.
type Config interface {
	configstore.ConfigStore
	Watch(onChange func()) error
}

type FileConfig struct {
	Path string   `yaml:"path" json:"path"`
	Fs   afero.Fs `yaml:"-" json:"-"` // defaults to the OS filesystem
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // document _id holding the settings
}

// NewStore opens the settings store of the given type. cfg must be a
// *FileConfig for FileStore and a *MongoConfig for MongoStore.
func NewStore(storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fc, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("%s store: expected *FileConfig, got %T", storeType, cfg)
		}
		if fc.Path == "" {
			return nil, fmt.Errorf("%s store: %w", storeType, ErrNoLocation)
		}
		if fc.Fs != nil {
			return filestore.NewWithFs(fc.Fs, fc.Path), nil
		}
		return filestore.New(fc.Path), nil
	case MongoStore:
		mc, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("%s store: expected *MongoConfig, got %T", storeType, cfg)
		}
		if mc.URI == "" {
			return nil, fmt.Errorf("%s store: %w", storeType, ErrNoLocation)
		}
		return mongostore.New(mc.URI, mc.DBName, mc.CollName, mc.ID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStoreType, storeType)
	}
}
