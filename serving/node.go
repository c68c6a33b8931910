package serving

// serving node holds currently loaded model and implements hot-swap reload
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vkuznet/mlpromote/registry"
)

var (
	// ErrReloading is returned by Predict while model reload is in flight
	ErrReloading = errors.New("model is reloading, try again")
	// ErrNotReady is returned by Predict when no model is loaded
	ErrNotReady = errors.New("model is not loaded")
	// ErrLoad is returned by Reload when backend construction fails
	ErrLoad = errors.New("unable to load model")
)

// Liveness represents liveness status of the node
type Liveness struct {
	Alive bool `json:"alive"`
}

// Snapshot represents read-only readiness view of the node state
type Snapshot struct {
	Ready   bool   `json:"ready"`
	Version string `json:"model_version"`
}

// Payload represents inference request payload
type Payload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Prediction represents inference result tagged with model version
type Prediction struct {
	Filename     string      `json:"filename"`
	ContentType  string      `json:"content_type"`
	Bytes        int         `json:"bytes"`
	ModelVersion string      `json:"model_version"`
	Detections   []Detection `json:"detections"`
}

// Node represents serving node state. Predict and Reload share one exclusive
// lock, therefore inference requests are serialized with respect to each
// other and to model swap. The reload counter is checked by Predict before
// taking the lock so requests fail fast instead of queuing behind reload.
type Node struct {
	Model    string            // registered model name
	Alias    string            // alias to serve, e.g. production
	resolver registry.Resolver // registry used to resolve the alias
	loader   Loader            // prediction backend loader

	mu      sync.Mutex
	backend Backend
	version string

	reloads  atomic.Int32
	snapshot atomic.Pointer[Snapshot]
}

// NewNode creates serving node without loaded model
func NewNode(model, alias string, resolver registry.Resolver, loader Loader) *Node {
	n := &Node{
		Model:    model,
		Alias:    alias,
		resolver: resolver,
		loader:   loader,
		version:  registry.NoVersion,
	}
	n.publish()
	return n
}

// Liveness reports that process is alive
func (n *Node) Liveness() Liveness {
	return Liveness{Alive: true}
}

// Readiness returns current readiness snapshot without blocking on reload
func (n *Node) Readiness() Snapshot {
	return *n.snapshot.Load()
}

// Reloading reports if reload is in flight
func (n *Node) Reloading() bool {
	return n.reloads.Load() > 0
}

// Predict performs inference using currently loaded model
func (n *Node) Predict(ctx context.Context, p Payload) (Prediction, error) {
	if n.Reloading() {
		return Prediction{}, ErrReloading
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.backend == nil {
		return Prediction{}, ErrNotReady
	}
	detections, err := n.backend.Predict(ctx, p.Data)
	if err != nil {
		return Prediction{}, fmt.Errorf("model %s/v%s prediction: %w", n.Model, n.version, err)
	}
	return Prediction{
		Filename:     p.Filename,
		ContentType:  p.ContentType,
		Bytes:        len(p.Data),
		ModelVersion: n.version,
		Detections:   detections,
	}, nil
}

// Reload resolves node alias in registry and swaps loaded model. Missing or
// unreachable registry entry leaves node unready and is not an error.
// Backend construction failure also leaves node unready and is returned
// as ErrLoad.
func (n *Node) Reload(ctx context.Context) (Snapshot, error) {
	n.reloads.Add(1)
	defer n.reloads.Add(-1)

	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.publish()

	rid := uuid.New().String()
	v, found, err := registry.Lookup(ctx, n.resolver, n.Model, n.Alias)
	if err != nil || !found {
		if err == nil {
			err = registry.ErrNotFound
		}
		log.Printf("reload %s: model %s:%s not ready (registry): %v", rid, n.Model, n.Alias, err)
		n.swap(nil, registry.NoVersion)
		return n.current(), nil
	}

	backend, err := n.load(ctx, v)
	if err != nil {
		log.Printf("ERROR: reload %s: unable to load %s from %s: %v", rid, v, v.Source, err)
		n.swap(nil, registry.NoVersion)
		return n.current(), fmt.Errorf("%w %s: %v", ErrLoad, v, err)
	}
	n.swap(backend, v.Version)
	log.Printf("reload %s: loaded model %s (alias=%s, source=%s)", rid, v, n.Alias, v.Source)
	return n.current(), nil
}

// Close releases loaded model
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.publish()
	var err error
	if n.backend != nil {
		err = n.backend.Close()
	}
	n.backend = nil
	n.version = registry.NoVersion
	return err
}

// helper function to construct backend, loader panic is reported as error
func (n *Node) load(ctx context.Context, v registry.Version) (backend Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("loader panic: %v", r)
		}
	}()
	backend, err = n.loader.Load(ctx, v)
	if err == nil && backend == nil {
		err = errors.New("loader returned no backend")
	}
	return
}

// helper function to replace backend and version, must be called under lock
func (n *Node) swap(backend Backend, version string) {
	if n.backend != nil && n.backend != backend {
		if err := n.backend.Close(); err != nil {
			log.Printf("unable to close model %s/v%s: %v", n.Model, n.version, err)
		}
	}
	n.backend = backend
	n.version = version
}

// helper function to return snapshot of current state, must be called under lock
func (n *Node) current() Snapshot {
	return Snapshot{Ready: n.backend != nil, Version: n.version}
}

// helper function to publish state snapshot for lock-free readers
func (n *Node) publish() {
	s := n.current()
	n.snapshot.Store(&s)
}
