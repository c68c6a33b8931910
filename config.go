package main

// config module
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Configuration stores server configuration parameters
type Configuration struct {
	// web server parts
	Base    string `json:"base"`     // base URL
	LogFile string `json:"log_file"` // server log file
	Port    int    `json:"port"`     // server port number
	Verbose int    `json:"verbose"`  // verbose output

	// server parts
	RootCAs         string   `json:"rootCAs"`          // server Root CAs path
	ServerCrt       string   `json:"server_cert"`      // server certificate
	ServerKey       string   `json:"server_key"`       // server certificate
	DomainNames     []string `json:"domain_names"`     // LetsEncrypt domain names
	LimiterPeriod   string   `json:"rate"`             // limiter rate value
	ShutdownTimeout int      `json:"shutdown_timeout"` // graceful shutdown timeout in seconds
	MaxPayload      int64    `json:"max_payload"`      // max size of predict payload in bytes

	// admin parts
	AdminToken string `json:"admin_token"` // admin token for /admin APIs

	// model registry parts
	Model       string `json:"model"`        // registered model name
	Alias       string `json:"alias"`        // model alias to serve
	Registry    string `json:"registry"`     // registry type: mlflow or mongo
	TrackingURI string `json:"tracking_uri"` // MLflow tracking server URI
	DBURI       string `json:"db_uri"`       // MongoDB registry URI
	DBName      string `json:"db_name"`      // MongoDB registry database name

	// prediction backend parts
	Backend MLBackend `json:"backend"` // ML backend
}

// Config variable represents configuration object
var Config Configuration

// Redacted returns copy of configuration suitable for logging
func (c Configuration) Redacted() Configuration {
	if c.AdminToken != "" {
		c.AdminToken = "***"
	}
	return c
}

// helper function to parse server configuration file
func parseConfig(configFile string) error {
	Config = Configuration{}
	if configFile != "" {
		data, err := os.ReadFile(filepath.Clean(configFile))
		if err != nil {
			log.Println("Unable to read", err)
			return err
		}
		err = json.Unmarshal(data, &Config)
		if err != nil {
			log.Println("Unable to parse", err)
			return err
		}
	}

	// environment overrides
	if token := os.Getenv("MLPROMOTE_ADMIN_TOKEN"); token != "" {
		Config.AdminToken = token
	}
	if uri := os.Getenv("MLFLOW_TRACKING_URI"); uri != "" && Config.TrackingURI == "" {
		Config.TrackingURI = uri
	}

	// default values
	if Config.Port == 0 {
		Config.Port = 8000
	}
	if Config.LimiterPeriod == "" {
		Config.LimiterPeriod = "100-S"
	}
	if Config.ShutdownTimeout == 0 {
		Config.ShutdownTimeout = 60
	}
	if Config.MaxPayload == 0 {
		Config.MaxPayload = 32 << 20
	}
	if Config.Model == "" {
		Config.Model = "IrisClassifier"
	}
	if Config.Alias == "" {
		Config.Alias = "production"
	}
	if Config.Registry == "" {
		Config.Registry = "mlflow"
	}
	if Config.TrackingURI == "" {
		Config.TrackingURI = "http://localhost:5000"
	}
	if Config.DBName == "" {
		Config.DBName = "mlpromote"
	}
	if Config.Backend.Type == "" {
		Config.Backend.Type = "dummy"
	}
	if !InList(Config.Registry, RegistryTypes) {
		return fmt.Errorf("unsupported registry %s, please use one of %v", Config.Registry, RegistryTypes)
	}
	if !InList(Config.Backend.Type, MLTypes) {
		return fmt.Errorf("unsupported backend type %s, please use one of %v", Config.Backend.Type, MLTypes)
	}
	if Config.Registry == "mongo" && Config.DBURI == "" {
		return fmt.Errorf("mongo registry requires db_uri")
	}
	return nil
}
