package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/latolukasz/changelog"
)

type config struct {
	MySQL struct {
		DSN                string `yaml:"dsn"`
		MaxOpenConnections int    `yaml:"maxOpenConnections"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Stream  string            `yaml:"stream"`
	Shards  int               `yaml:"shards"`
	Group   string            `yaml:"group"`
	Table   string            `yaml:"table"`
	Batch   int               `yaml:"batch"`
	Columns map[string]string `yaml:"columns"`
	Debug   bool              `yaml:"debug"`
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	cfg := &config{}
	err = yaml.UnmarshalStrict(data, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if cfg.MySQL.DSN == "" {
		return nil, errors.New("mysql.dsn is required")
	}
	if cfg.Table == "" {
		return nil, errors.New("table is required")
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	columns := map[string]string{
		changelog.ColumnAction:   "action",
		changelog.ColumnOldValue: "old_value",
		changelog.ColumnNewValue: "new_value",
		changelog.ColumnEntity:   "",
	}
	for role, column := range cfg.Columns {
		if _, known := columns[role]; !known {
			return nil, errors.Errorf("unknown log table column role '%s'", role)
		}
		columns[role] = column
	}
	cfg.Columns = columns
	return cfg, nil
}
