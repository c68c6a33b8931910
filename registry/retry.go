package registry

import (
	"context"
	"errors"
	"log"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Policy defines bounded retry policy with fixed delay between attempts
type Policy struct {
	Attempts int           // max number of attempts, at least one attempt is made
	Delay    time.Duration // delay between attempts
}

// DefaultAliasPolicy is used to assign alias right after model registration
// since registry meta-data may not be consistent yet
var DefaultAliasPolicy = Policy{Attempts: 10, Delay: time.Second}

// permanent marks error which should not be retried
type permanent struct {
	err error
}

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so Policy.Do stops retrying on it
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// Do calls fn until it succeeds, returns permanent error, context is done or
// number of attempts is exhausted. It returns last error of fn.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	backoff := wait.Backoff{Steps: max(p.Attempts, 1), Duration: p.Delay, Factor: 1}
	attempts := backoff.Steps
	attempt := 0
	var last error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		last = fn(attempt)
		if last == nil {
			return true, nil
		}
		var perm permanent
		if errors.As(last, &perm) {
			return false, perm.err
		}
		if attempt < attempts {
			log.Printf("retry (%d/%d) error %v", attempt, attempts, last)
		}
		return false, nil
	})
	if err != nil && wait.Interrupted(err) && ctx.Err() == nil {
		// attempts are exhausted
		return last
	}
	return err
}

// RegisterAndAlias registers model artifact in registry and assigns alias
// to newly created version using given retry policy
func RegisterAndAlias(ctx context.Context, r Registry, model, alias, source string, p Policy) (Version, error) {
	v, err := r.RegisterVersion(ctx, model, source)
	if err != nil {
		return v, err
	}
	log.Printf("registered: %s", v)
	err = p.Do(ctx, func(attempt int) error {
		err := r.SetAlias(ctx, model, alias, v.Version)
		if errors.Is(err, ErrRejected) {
			return Permanent(err)
		}
		return err
	})
	if err != nil {
		return v, err
	}
	log.Printf("alias set: %s:%s -> v%s", model, alias, v.Version)
	return v, nil
}
