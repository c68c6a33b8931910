package main

// data module holds all data representations used in our package
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"time"

	"github.com/vkuznet/mlpromote/registry"
	"github.com/vkuznet/mlpromote/serving"
)

// MLTypes defines supported ML backend types
var MLTypes = []string{"dummy", "remote"}

// RegistryTypes defines supported model registries
var RegistryTypes = []string{"mlflow", "mongo"}

// MLBackend represents ML backend engine
type MLBackend struct {
	Name       string `json:"name"`        // ML backend name, e.g. TFaaS
	Type       string `json:"type"`        // ML backend type, e.g. dummy or remote
	URI        string `json:"uri"`         // ML backend URI, e.g. http://localhost:port
	Timeout    int    `json:"timeout"`     // ML backend request timeout in seconds
	LoadDelay  int    `json:"load_delay"`  // simulated model load time in milliseconds (dummy)
	InferDelay int    `json:"infer_delay"` // simulated inference time in milliseconds (dummy)
}

// Loader returns prediction backend loader for ML backend
func (m *MLBackend) Loader() serving.Loader {
	if m.Type == "remote" {
		return serving.NewRemoteLoader(m.URI, time.Duration(m.Timeout)*time.Second)
	}
	return serving.NewDummyLoader(
		time.Duration(m.LoadDelay)*time.Millisecond,
		time.Duration(m.InferDelay)*time.Millisecond)
}

// helper function to create model registry client from configuration
func newRegistry() registry.Registry {
	switch Config.Registry {
	case "mongo":
		return registry.NewMongo(Config.DBURI, Config.DBName)
	}
	reg := registry.NewMLflow(Config.TrackingURI)
	reg.Verbose = Config.Verbose
	return reg
}

// LiveRecord represents /live response
type LiveRecord = serving.Liveness

// ReadyRecord represents /ready response
type ReadyRecord = serving.Snapshot

// PingRecord represents /ping response
type PingRecord struct {
	Status       string `json:"status"`
	ModelVersion string `json:"model_version"`
}

// ReloadRecord represents /admin/reload response
type ReloadRecord struct {
	Status       string `json:"status"`
	ModelVersion string `json:"model_version"`
}
