package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "anancus"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host      string
		HttpPort  int    `yaml:"httpPort"`
		SslDomain string `yaml:"sslDomain"`
		DataDir   string `yaml:"dataDir"`
		Workers   int    `yaml:"workers"`
		AutoTls   bool   `yaml:"autoTls"`
		Closed    bool   `yaml:"closed"`
		PurgeDays int    `yaml:"purgeDays"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("ANANCUS_HOST")
	envHttpPort := os.Getenv("ANANCUS_HTTPPORT")
	envSslDomain := os.Getenv("ANANCUS_SSLDOMAIN")
	envDataDir := os.Getenv("ANANCUS_DATADIR")
	envWorkers := os.Getenv("ANANCUS_WORKERS")
	envAutoTls := os.Getenv("ANANCUS_AUTOTLS")
	envClosed := os.Getenv("ANANCUS_CLOSED")
	envPurgeDays := os.Getenv("ANANCUS_PURGEDAYS")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envDataDir != "" {
		c.Conf.DataDir = envDataDir
	}

	if envWorkers != "" {
		v, err := strconv.Atoi(envWorkers)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.Workers = v
	}

	if envAutoTls == "true" {
		c.Conf.AutoTls = true
	}

	if envClosed == "true" {
		c.Conf.Closed = true
	}

	if envPurgeDays != "" {
		v, err := strconv.Atoi(envPurgeDays)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.PurgeDays = v
	}

	if c.Conf.Workers <= 0 {
		c.Conf.Workers = 4
	}

	if c.Conf.DataDir == "" {
		c.Conf.DataDir = ResolveFilePath("data")
	}

	return c, nil
}
