package main

// register creates new model version from given artifact source and binds
// model alias to it, alias assignment is retried while registry catches up
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"
	"github.com/vkuznet/mlpromote/registry"
)

func main() {
	model := "IrisClassifier"
	alias := "production"
	policy := registry.DefaultAliasPolicy
	regOpts := registry.DefaultOptions()

	flags := pflag.CommandLine
	flags.StringVar(&model, "model", model, "registered model name")
	flags.StringVar(&alias, "alias", alias, "model alias to bind to new version")
	flags.IntVar(&policy.Attempts, "attempts", policy.Attempts, "number of alias assignment attempts")
	flags.DurationVar(&policy.Delay, "delay", policy.Delay, "delay between alias assignment attempts")
	flags.IntVar(&regOpts.Verbose, "verbose", regOpts.Verbose, "verbosity level")
	regOpts.AddFlags(flags)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s SOURCE [options]\n", os.Args[0])
		flags.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		flags.Usage()
		os.Exit(1)
	}
	source := pflag.Arg(0)
	log.SetFlags(log.LstdFlags)

	reg, closer, err := regOpts.Open()
	if err != nil {
		log.Fatal(err)
	}
	defer closer()

	v, err := registry.RegisterAndAlias(context.Background(), reg, model, alias, source, policy)
	if err != nil {
		log.Printf("unable to register %s as %s:%s: %v", source, model, alias, err)
		closer()
		os.Exit(1)
	}
	fmt.Println(v.Version)
}
