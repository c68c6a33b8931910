package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vkuznet/mlpromote/promotion"
	"github.com/vkuznet/mlpromote/registry"
	"github.com/vkuznet/mlpromote/serving"
)

// loader which fails for artifacts marked as broken
var brokenLoader = serving.LoaderFunc(func(ctx context.Context, v registry.Version) (serving.Backend, error) {
	if strings.Contains(v.Source, "broken") {
		return nil, errors.New("corrupt artifact")
	}
	return &serving.DummyDetector{}, nil
})

// TestPromotionFlow runs promotion against serving node HTTP server
func TestPromotionFlow(t *testing.T) {
	router, node, reg := testRouter(t, brokenLoader, "s3://models/iris/1")
	ctx := context.Background()
	if _, err := node.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RegisterVersion(ctx, "IrisClassifier", "s3://models/iris/2"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RegisterVersion(ctx, "IrisClassifier", "s3://models/iris/broken"); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(router)
	defer srv.Close()

	o := &promotion.Orchestrator{Registry: reg, Node: promotion.NewClient(srv.URL, "secret", time.Second)}
	opts := promotion.DefaultOptions()
	opts.Timeout = time.Second
	opts.Interval = 10 * time.Millisecond

	// successful promotion
	opts.Version = "2"
	res, err := o.Promote(ctx, opts)
	if err != nil {
		t.Fatalf("promotion failed: %v", err)
	}
	if !res.Promoted || res.Previous != "1" {
		t.Errorf("unexpected result %+v", res)
	}
	if got := node.Readiness(); !got.Ready || got.Version != "2" {
		t.Errorf("unexpected readiness %+v", got)
	}

	// broken version is rolled back to previous one
	opts.Version = "3"
	res, err = o.Promote(ctx, opts)
	if !errors.Is(err, promotion.ErrNotConverged) {
		t.Fatalf("expected ErrNotConverged, got %v", err)
	}
	if res.Promoted || res.Rollback != promotion.RollbackConfirmed {
		t.Errorf("unexpected result %+v", res)
	}
	if got := node.Readiness(); !got.Ready || got.Version != "2" {
		t.Errorf("node should serve previous version, got %+v", got)
	}
	v, err := reg.ResolveAlias(ctx, "IrisClassifier", "production")
	if err != nil || v.Version != "2" {
		t.Errorf("alias should point to previous version, got %v %v", v, err)
	}

	// explicit rollback
	opts.Version = "1"
	if err := o.Rollback(ctx, opts); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if got := node.Readiness(); got.Version != "1" {
		t.Errorf("unexpected readiness %+v", got)
	}
}

// TestPromotionUnauthorized
func TestPromotionUnauthorized(t *testing.T) {
	router, node, reg := testRouter(t, nil, "s3://models/iris/1", "s3://models/iris/2")
	ctx := context.Background()
	if err := reg.SetAlias(ctx, "IrisClassifier", "production", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := node.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(router)
	defer srv.Close()

	o := &promotion.Orchestrator{Registry: reg, Node: promotion.NewClient(srv.URL, "wrong", time.Second)}
	opts := promotion.DefaultOptions()
	opts.Version = "2"
	opts.Timeout = 200 * time.Millisecond
	opts.Interval = 10 * time.Millisecond
	res, err := o.Promote(ctx, opts)
	if err == nil || res.Promoted {
		t.Fatalf("promotion without valid token should fail, got %+v", res)
	}
	if got := node.Readiness(); got.Version != "1" {
		t.Errorf("serving node should keep previous version, got %+v", got)
	}
}
