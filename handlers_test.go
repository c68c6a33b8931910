package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vkuznet/mlpromote/registry"
	"github.com/vkuznet/mlpromote/serving"
)

// helper function to setup serving node router, alias is bound to the last
// registered version
func testRouter(t *testing.T, loader serving.Loader, sources ...string) (http.Handler, *serving.Node, *registry.Memory) {
	t.Helper()
	if err := parseConfig(""); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	reg := registry.NewMemory()
	for _, src := range sources {
		v, err := reg.RegisterVersion(ctx, "IrisClassifier", src)
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.SetAlias(ctx, "IrisClassifier", "production", v.Version); err != nil {
			t.Fatal(err)
		}
	}
	if loader == nil {
		loader = serving.NewDummyLoader(0, 0)
	}
	node := serving.NewNode("IrisClassifier", "production", reg, loader)
	h := &Handlers{Node: node, AdminToken: "secret", MaxPayload: 1 << 20}
	return bunRouter(h), node, reg
}

// helper function to perform HTTP request against router
func testRequest(router http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// TestProbes
func TestProbes(t *testing.T) {
	router, node, _ := testRouter(t, nil, "s3://models/iris/1")

	rr := testRequest(router, "GET", "/live", nil, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"alive":true`) {
		t.Errorf("unexpected /live response %d %s", rr.Code, rr.Body.String())
	}

	var ready ReadyRecord
	rr = testRequest(router, "GET", "/ready", nil, nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &ready); err != nil {
		t.Fatal(err)
	}
	if ready.Ready || ready.Version != registry.NoVersion {
		t.Errorf("node should not be ready before reload, got %+v", ready)
	}

	if _, err := node.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	rr = testRequest(router, "GET", "/ready", nil, nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &ready); err != nil {
		t.Fatal(err)
	}
	if !ready.Ready || ready.Version != "1" {
		t.Errorf("unexpected readiness %+v", ready)
	}

	var ping PingRecord
	rr = testRequest(router, "GET", "/ping", nil, nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &ping); err != nil {
		t.Fatal(err)
	}
	if ping.Status != "ok" || ping.ModelVersion != "1" {
		t.Errorf("unexpected ping %+v", ping)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

// TestReloadHandler
func TestReloadHandler(t *testing.T) {
	router, node, reg := testRouter(t, nil, "s3://models/iris/1")
	if _, err := node.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	v, err := reg.RegisterVersion(context.Background(), "IrisClassifier", "s3://models/iris/2")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.SetAlias(context.Background(), "IrisClassifier", "production", v.Version); err != nil {
		t.Fatal(err)
	}

	for _, token := range []string{"", "wrong"} {
		headers := map[string]string{}
		if token != "" {
			headers[AdminTokenHeader] = token
		}
		rr := testRequest(router, "POST", "/admin/reload", nil, headers)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: expected 401, got %d", token, rr.Code)
		}
		if got := node.Readiness().Version; got != "1" {
			t.Errorf("unauthorized reload changed state to %s", got)
		}
	}

	rr := testRequest(router, "POST", "/admin/reload", nil, map[string]string{AdminTokenHeader: "secret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var rec ReloadRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Status != "reloaded" || rec.ModelVersion != "2" {
		t.Errorf("unexpected reload response %+v", rec)
	}
}

// TestReloadHandlerLoadError
func TestReloadHandlerLoadError(t *testing.T) {
	loader := serving.LoaderFunc(func(ctx context.Context, v registry.Version) (serving.Backend, error) {
		return nil, context.DeadlineExceeded
	})
	router, node, _ := testRouter(t, loader, "s3://models/iris/1")
	rr := testRequest(router, "POST", "/admin/reload", nil, map[string]string{AdminTokenHeader: "secret"})
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
	var herr HTTPError
	if err := json.Unmarshal(rr.Body.Bytes(), &herr); err != nil {
		t.Fatal(err)
	}
	if herr.Code != ModelLoadError {
		t.Errorf("unexpected error code %d", herr.Code)
	}
	if node.Readiness().Ready {
		t.Error("node should be unready after load failure")
	}
}

// TestPredictHandler
func TestPredictHandler(t *testing.T) {
	router, node, _ := testRouter(t, nil, "s3://models/iris/1")

	rr := testRequest(router, "POST", "/predict", []byte("image"), nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before model is loaded, got %d", rr.Code)
	}

	if _, err := node.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	// multipart form
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "cat.jpg")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("jpeg-bytes"))
	writer.Close()
	rr = testRequest(router, "POST", "/predict", body.Bytes(), map[string]string{"Content-Type": writer.FormDataContentType()})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var pred serving.Prediction
	if err := json.Unmarshal(rr.Body.Bytes(), &pred); err != nil {
		t.Fatal(err)
	}
	if pred.Filename != "cat.jpg" || pred.Bytes != len("jpeg-bytes") || pred.ModelVersion != "1" {
		t.Errorf("unexpected prediction %+v", pred)
	}
	if len(pred.Detections) == 0 {
		t.Error("expected detections")
	}

	// raw body
	rr = testRequest(router, "POST", "/predict?filename=raw.bin", []byte("raw-bytes"), map[string]string{"Content-Type": "application/octet-stream"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &pred); err != nil {
		t.Fatal(err)
	}
	if pred.Filename != "raw.bin" || pred.Bytes != len("raw-bytes") {
		t.Errorf("unexpected prediction %+v", pred)
	}

	// gzip body
	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	zw.Write([]byte("zipped-bytes"))
	zw.Close()
	rr = testRequest(router, "POST", "/predict", zbuf.Bytes(), map[string]string{"Content-Encoding": "gzip"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &pred); err != nil {
		t.Fatal(err)
	}
	if pred.Bytes != len("zipped-bytes") {
		t.Errorf("gzip payload was not decoded, bytes=%d", pred.Bytes)
	}

	// empty body
	rr = testRequest(router, "POST", "/predict", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty payload, got %d", rr.Code)
	}
}

// TestPredictHandlerDuringReload
func TestPredictHandlerDuringReload(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	loader := serving.LoaderFunc(func(ctx context.Context, v registry.Version) (serving.Backend, error) {
		close(started)
		<-release
		return &serving.DummyDetector{}, nil
	})
	router, _, _ := testRouter(t, loader, "s3://models/iris/1")

	done := make(chan int)
	go func() {
		rr := testRequest(router, "POST", "/admin/reload", nil, map[string]string{AdminTokenHeader: "secret"})
		done <- rr.Code
	}()
	<-started

	rr := testRequest(router, "POST", "/predict", []byte("image"), nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 during reload, got %d", rr.Code)
	}
	var herr HTTPError
	if err := json.Unmarshal(rr.Body.Bytes(), &herr); err != nil {
		t.Fatal(err)
	}
	if herr.Code != ReloadInProgress {
		t.Errorf("unexpected error code %d", herr.Code)
	}

	close(release)
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("reload returned %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not complete")
	}
	rr = testRequest(router, "POST", "/predict", []byte("image"), nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 after reload, got %d", rr.Code)
	}
}

// TestDocsHandler
func TestDocsHandler(t *testing.T) {
	router, _, _ := testRouter(t, nil)
	rr := testRequest(router, "GET", "/docs", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "/admin/reload") {
		t.Error("docs page does not describe reload API")
	}
}
