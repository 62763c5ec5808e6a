package main

import (
	"fmt"

	"github.com/andrej220/provchain/internal/serverutil"
	"github.com/andrej220/provchain/pkg/config"
	"github.com/andrej220/provchain/pkg/config/configstore"
	"github.com/andrej220/provchain/pkg/kafkautil"
)

const SERVICENAME = "provisioner"
const CONFIGFILENAME = "config.yaml"
const CONFIGENV = "PROVISIONER_CONFIG"
const CONFIGURIENV = "PROVISIONER_CONFIG_URI"
const PROJECTNAME = "provchain"

type ProvisionerConfig struct {
	config.Settings `yaml:",inline" bson:",inline"`

	Server struct {
		Port string `yaml:"port" json:"port"`
	} `yaml:"server" json:"server"`

	Kafka kafkautil.Config `yaml:"kafka" json:"kafka"`

	Database struct {
		MongoURI   string `yaml:"mongoURI" json:"mongoURI"`
		DBName     string `yaml:"dbName" json:"dbName"`
		Collection string `yaml:"collection" json:"collection"`
	} `yaml:"database" json:"database"`
}

// openConfigStore reads the configuration from MongoDB when
// PROVISIONER_CONFIG_URI is set, otherwise from the YAML file.
func openConfigStore(getenv func(string) string) (config.Config, error) {
	if uri := getenv(CONFIGURIENV); uri != "" {
		return config.NewStore(config.MongoStore, &config.MongoConfig{
			URI:      uri,
			DBName:   PROJECTNAME,
			CollName: "config",
			ID:       SERVICENAME,
		})
	}
	path := getenv(CONFIGENV)
	if path == "" {
		path = CONFIGFILENAME
	}
	return config.NewStore(config.FileStore, &config.FileConfig{Path: path})
}

func loadConfig(store configstore.ConfigStore) (*ProvisionerConfig, error) {
	var cfg ProvisionerConfig
	if err := store.Load(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if cfg.Server.Port == "" {
		cfg.Server.Port = serverutil.DefaultServerConfig().Port
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = SERVICENAME
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = PROJECTNAME
	}
	if cfg.Database.Collection == "" {
		cfg.Database.Collection = "reports"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
		return nil, fmt.Errorf("invalid settings: kafka brokers and topic are required")
	}
	return &cfg, nil
}
