package registry

// registry module defines the model registry client abstraction
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"context"
	"errors"
)

// ErrNotFound is returned when registered model or its alias does not exist
var ErrNotFound = errors.New("not found in model registry")

// ErrUnavailable is returned when model registry can't be reached or
// failed to serve the request
var ErrUnavailable = errors.New("model registry unavailable")

// ErrRejected is returned when model registry refused the request as invalid
// or not permitted, repeating such request does not help
var ErrRejected = errors.New("request rejected by model registry")

// NoVersion represents version value of unresolved alias
const NoVersion = "none"

// Version represents registered model version
type Version struct {
	Model   string `json:"model" bson:"model"`     // registered model name
	Version string `json:"version" bson:"version"` // model version, e.g. "3"
	Source  string `json:"source" bson:"source"`   // model artifact location
}

// String provides string representation of Version
func (v Version) String() string {
	return v.Model + "/v" + v.Version
}

// Resolver resolves alias of registered model to concrete version
type Resolver interface {
	ResolveAlias(ctx context.Context, model, alias string) (Version, error)
}

// Registry represents model registry used by serving node and orchestrators
type Registry interface {
	Resolver
	// SetAlias moves alias pointer of the model to given version
	SetAlias(ctx context.Context, model, alias, version string) error
	// RegisterVersion creates new model version for given artifact source
	RegisterVersion(ctx context.Context, model, source string) (Version, error)
}

// Lookup resolves alias and reports missing model or alias as found=false
// rather than error. Any other registry failure is returned as error.
func Lookup(ctx context.Context, r Resolver, model, alias string) (Version, bool, error) {
	v, err := r.ResolveAlias(ctx, model, alias)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Version{}, false, nil
		}
		return Version{}, false, err
	}
	return v, true, nil
}
