package kafkautil

import "errors"

type Config struct {
	Brokers []string `yaml:"brokers" json:"brokers" validate:"required,min=1"`
	Topic   string   `yaml:"topic" json:"topic" validate:"required"`
	GroupID string   `yaml:"groupID" json:"groupID"`
}

func (c Config) check() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	if c.Topic == "" {
		return errors.New("kafka: no topic configured")
	}
	return nil
}
