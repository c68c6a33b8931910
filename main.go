package main

// mlpromote - Go implementation of model serving node with hot-swap reload
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/vkuznet/mlpromote/registry"
	"github.com/vkuznet/mlpromote/serving"
)

// version of the code
var version string

// helper function to return version string of the server
func info() string {
	goVersion := runtime.Version()
	tstamp := time.Now().Format("2006-01-02")
	return fmt.Sprintf("mlpromote git=%s go=%s date=%s", version, goVersion, tstamp)
}

func main() {
	var config string
	flag.StringVar(&config, "config", "", "configuration file")
	var version bool
	flag.BoolVar(&version, "version", false, "print version information about the server")
	flag.Parse()
	if version {
		fmt.Println(info())
		os.Exit(0)
	}
	err := parseConfig(config)
	if err != nil {
		log.Fatalf("unable to parse config %s, error %v\n", config, err)
	}
	if err := setupLogger(); err != nil {
		log.Fatalf("unable to setup logger, error %v\n", err)
	}
	if Config.Verbose > 0 {
		log.Printf("%+v\n", Config.Redacted())
	}
	if Config.AdminToken == "" {
		log.Println("WARNING: admin_token is not set, /admin/reload is disabled")
	}

	// initialize serving node with one model load before accepting traffic
	reg := newRegistry()
	if m, ok := reg.(*registry.Mongo); ok {
		defer m.Close()
	}
	node := serving.NewNode(Config.Model, Config.Alias, reg, Config.Backend.Loader())
	log.Printf("Loading model %s@%s ...", Config.Model, Config.Alias)
	snap, err := node.Reload(context.Background())
	if err != nil {
		log.Println("ERROR:", err)
	}
	if snap.Ready {
		log.Printf("Model loaded (ready=true, version=%s)", snap.Version)
	} else {
		log.Println("Model NOT loaded (ready=false)")
	}
	defer node.Close()

	// start serving node
	if err := Server(node); err != nil {
		log.Fatal(err)
	}
}
