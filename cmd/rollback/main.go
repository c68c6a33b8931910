package main

// rollback moves model alias back to given version and verifies serving
// node converges to it
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"
	"github.com/vkuznet/mlpromote/promotion"
	"github.com/vkuznet/mlpromote/registry"
)

func main() {
	opts := promotion.DefaultOptions()
	opts.RollbackOnFail = false
	regOpts := registry.DefaultOptions()
	api := "http://localhost:8000"
	token := os.Getenv("MLPROMOTE_ADMIN_TOKEN")

	flags := pflag.CommandLine
	flags.StringVar(&opts.Model, "model", opts.Model, "registered model name")
	flags.StringVar(&opts.Alias, "alias", opts.Alias, "model alias to move")
	flags.StringVar(&api, "api", api, "serving node URL")
	flags.StringVar(&token, "admin-token", token, "serving node admin token (default $MLPROMOTE_ADMIN_TOKEN)")
	flags.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "serving node convergence timeout")
	flags.DurationVar(&opts.Interval, "interval", opts.Interval, "serving node readiness poll interval")
	flags.IntVar(&opts.Verbose, "verbose", opts.Verbose, "verbosity level")
	regOpts.AddFlags(flags)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s VERSION [options]\n", os.Args[0])
		flags.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		flags.Usage()
		os.Exit(1)
	}
	opts.Version = pflag.Arg(0)
	regOpts.Verbose = opts.Verbose
	log.SetFlags(log.LstdFlags)

	reg, closer, err := regOpts.Open()
	if err != nil {
		log.Fatal(err)
	}
	defer closer()

	o := &promotion.Orchestrator{
		Registry: reg,
		Node:     promotion.NewClient(api, token, opts.Timeout),
	}
	if err := o.Rollback(context.Background(), opts); err != nil {
		log.Println(err)
		closer()
		os.Exit(1)
	}
}
