package main

import (
	"fmt"

	"github.com/andrej220/provchain/pkg/config/configstore"
	"github.com/andrej220/provchain/pkg/kafkautil"
)

const SERVICENAME = "provisionerProducer"
const CONFIGFILENAME = "producer.yaml"
const CONFIGENV = "PRODUCER_CONFIG"

type ProducerConfig struct {
	Service struct {
		Port     string `yaml:"port" json:"port"`
		HTTPpath string `yaml:"http_path" json:"http_path"`
	} `yaml:"service" json:"service"`

	Kafka kafkautil.Config `yaml:"kafka" json:"kafka"`
}

func loadConfig(store configstore.ConfigStore) (*ProducerConfig, error) {
	var cfg ProducerConfig
	if err := store.Load(&cfg); err != nil {
		return nil, err
	}
	if cfg.Service.Port == "" {
		cfg.Service.Port = "8083"
	}
	if cfg.Service.HTTPpath == "" {
		cfg.Service.HTTPpath = "/provision"
	}
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	return &cfg, nil
}
