package serving

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vkuznet/mlpromote/registry"
)

// TestRemoteBackend
func TestRemoteBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		rec := remotePrediction{Detections: []Detection{
			{Class: r.FormValue("version") + ":" + string(data), Confidence: 0.7, BBox: [4]int{1, 2, 3, 4}},
		}}
		json.NewEncoder(w).Encode(rec)
	}))
	defer srv.Close()

	ctx := context.Background()
	loader := NewRemoteLoader(srv.URL+"/", time.Second)
	backend, err := loader.Load(ctx, registry.Version{Model: "IrisClassifier", Version: "3", Source: "runs:/x/model"})
	if err != nil {
		t.Fatalf("unable to load remote backend, error %v", err)
	}
	defer backend.Close()
	detections, err := backend.Predict(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("unable to predict, error %v", err)
	}
	if len(detections) != 1 || detections[0].Class != "3:payload" {
		t.Errorf("wrong detections %+v", detections)
	}

	t.Run("upstream error", func(t *testing.T) {
		bad, _ := NewRemoteLoader(srv.URL+"/missing", time.Second).Load(ctx, registry.Version{})
		if _, err := bad.Predict(ctx, []byte("x")); err == nil {
			t.Error("expected error from upstream")
		}
	})

	t.Run("missing URI", func(t *testing.T) {
		if _, err := NewRemoteLoader("", 0).Load(ctx, registry.Version{}); err == nil {
			t.Error("expected error for missing URI")
		}
	})
}
