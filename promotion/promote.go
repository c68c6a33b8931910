package promotion

// promotion and rollback orchestrators
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vkuznet/mlpromote/registry"
	"k8s.io/apimachinery/pkg/util/wait"
)

// ErrNotConverged is returned when serving node did not report expected
// version before the deadline
var ErrNotConverged = errors.New("serving node did not converge")

// Options represents orchestrator inputs
type Options struct {
	Version        string        // target model version
	Model          string        // registered model name
	Alias          string        // alias to move
	RollbackOnFail bool          // restore previous alias on failed promotion
	Timeout        time.Duration // convergence deadline
	Interval       time.Duration // readiness poll interval
	Verbose        int           // verbosity level
}

// DefaultOptions returns options with default values
func DefaultOptions() Options {
	return Options{
		Model:          "IrisClassifier",
		Alias:          "production",
		RollbackOnFail: true,
		Timeout:        30 * time.Second,
		Interval:       500 * time.Millisecond,
	}
}

// RollbackOutcome represents outcome of compensating rollback
type RollbackOutcome int

const (
	RollbackNone        RollbackOutcome = iota // no rollback was needed
	RollbackSkipped                            // nothing to roll back to or rollback disabled
	RollbackConfirmed                          // serving node converged to previous version
	RollbackUnconfirmed                        // rollback attempted, not confirmed
	RollbackFailed                             // previous alias could not be restored
)

// String provides string representation of RollbackOutcome
func (r RollbackOutcome) String() string {
	switch r {
	case RollbackSkipped:
		return "skipped"
	case RollbackConfirmed:
		return "confirmed"
	case RollbackUnconfirmed:
		return "unconfirmed"
	case RollbackFailed:
		return "failed"
	}
	return "none"
}

// Result represents outcome of promotion
type Result struct {
	Target   string          // target version
	Previous string          // previously bound version, empty if alias was not set
	Promoted bool            // serving node converged to target version
	Rollback RollbackOutcome // outcome of compensating rollback
}

// Orchestrator drives registry and serving node through promotion protocol
type Orchestrator struct {
	Registry registry.Registry
	Node     Node
}

// Promote moves alias to target version and verifies serving node converges
// to it. On failure the previous alias is restored once when possible; the
// promotion is reported as failed regardless of rollback outcome.
func (o *Orchestrator) Promote(ctx context.Context, opts Options) (Result, error) {
	res := Result{Target: opts.Version}

	if v, err := o.Registry.ResolveAlias(ctx, opts.Model, opts.Alias); err == nil {
		res.Previous = v.Version
		log.Printf("current %s:%s -> v%s", opts.Model, opts.Alias, v.Version)
	} else {
		log.Printf("current %s:%s not set (%v)", opts.Model, opts.Alias, err)
	}

	converged, err := o.cycle(ctx, opts, opts.Version)
	if err != nil {
		log.Printf("PROMOTE FAIL: unable to set alias %s:%s -> v%s: %v", opts.Model, opts.Alias, opts.Version, err)
		return res, err
	}
	if converged {
		res.Promoted = true
		log.Printf("PROMOTE OK: /ready -> v%s", opts.Version)
		return res, nil
	}
	log.Printf("PROMOTE FAIL: /ready did not become v%s", opts.Version)

	switch {
	case !opts.RollbackOnFail:
		res.Rollback = RollbackSkipped
	case res.Previous == "":
		res.Rollback = RollbackSkipped
		log.Printf("no previous version of %s:%s, skip rollback", opts.Model, opts.Alias)
	default:
		res.Rollback = o.compensate(ctx, opts, res.Previous)
	}
	return res, fmt.Errorf("promotion of %s to v%s: %w", opts.Model, opts.Version, ErrNotConverged)
}

// Rollback moves alias to given version and verifies serving node converges
// to it, no compensation is performed on failure
func (o *Orchestrator) Rollback(ctx context.Context, opts Options) error {
	converged, err := o.cycle(ctx, opts, opts.Version)
	if err != nil {
		log.Printf("ROLLBACK FAIL: unable to set alias %s:%s -> v%s: %v", opts.Model, opts.Alias, opts.Version, err)
		return err
	}
	if !converged {
		log.Printf("ROLLBACK FAIL: /ready did not become v%s", opts.Version)
		return fmt.Errorf("rollback of %s to v%s: %w", opts.Model, opts.Version, ErrNotConverged)
	}
	log.Printf("ROLLBACK OK: /ready -> v%s", opts.Version)
	return nil
}

// helper function to restore previous alias after failed promotion
func (o *Orchestrator) compensate(ctx context.Context, opts Options, previous string) RollbackOutcome {
	log.Printf("trying rollback to v%s ...", previous)
	converged, err := o.cycle(ctx, opts, previous)
	if err != nil {
		log.Printf("rollback failed: %v", err)
		return RollbackFailed
	}
	if !converged {
		log.Printf("rollback attempted but /ready not confirmed v%s", previous)
		return RollbackUnconfirmed
	}
	log.Printf("ROLLBACK OK: /ready -> v%s", previous)
	return RollbackConfirmed
}

// helper function to perform commit, trigger and converge steps. Only commit
// failure is returned as error, reload failure is logged since convergence
// is verified by polling readiness.
func (o *Orchestrator) cycle(ctx context.Context, opts Options, version string) (bool, error) {
	if err := o.Registry.SetAlias(ctx, opts.Model, opts.Alias, version); err != nil {
		return false, err
	}
	log.Printf("alias set: %s:%s -> v%s", opts.Model, opts.Alias, version)

	if rsp, err := o.Node.Reload(ctx); err != nil {
		log.Printf("reload failed: %v", err)
	} else {
		log.Printf("reload response: status=%s model_version=%s", rsp.Status, rsp.Version)
	}

	return o.WaitReady(ctx, version, opts.Timeout, opts.Interval, opts.Verbose), nil
}

// WaitReady polls serving node readiness with fixed interval until it
// reports given version or timeout elapses. Errors of readiness calls are
// treated as not ready yet.
func (o *Orchestrator) WaitReady(ctx context.Context, version string, timeout, interval time.Duration, verbose int) bool {
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		r, err := o.Node.Ready(ctx)
		if err == nil && r.Ready && r.Version == version {
			return true, nil
		}
		if verbose > 0 {
			log.Printf("waiting for v%s, ready=%+v error=%v", version, r, err)
		}
		return false, nil
	})
	return err == nil
}
