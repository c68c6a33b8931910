package serving

// prediction backends used by serving node
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/vkuznet/mlpromote/registry"
)

// Detection represents single object detection produced by the model
type Detection struct {
	Class      string  `json:"class"`      // detected object class
	Confidence float64 `json:"confidence"` // detection confidence
	BBox       [4]int  `json:"bbox"`       // bounding box x1,y1,x2,y2
}

// Backend represents loaded model capable of inference
type Backend interface {
	Predict(ctx context.Context, data []byte) ([]Detection, error)
	Close() error
}

// Loader constructs prediction backend for given model version
type Loader interface {
	Load(ctx context.Context, v registry.Version) (Backend, error)
}

// LoaderFunc is an adapter to use ordinary function as Loader
type LoaderFunc func(ctx context.Context, v registry.Version) (Backend, error)

// Load implements Loader interface
func (f LoaderFunc) Load(ctx context.Context, v registry.Version) (Backend, error) {
	return f(ctx, v)
}

// DummyDetector is deterministic stand-in of object detection model
type DummyDetector struct {
	InferDelay time.Duration // simulated inference time
}

// NewDummyLoader returns Loader of DummyDetector backends, loadDelay
// simulates loading of model weights
func NewDummyLoader(loadDelay, inferDelay time.Duration) Loader {
	return LoaderFunc(func(ctx context.Context, v registry.Version) (Backend, error) {
		log.Printf("initializing dummy detector for %s", v)
		if loadDelay > 0 {
			timer := time.NewTimer(loadDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		return &DummyDetector{InferDelay: inferDelay}, nil
	})
}

// Predict implements Backend interface, confidence is derived from the
// payload hash so the same input always yields the same detection
func (d *DummyDetector) Predict(ctx context.Context, data []byte) ([]Detection, error) {
	if d.InferDelay > 0 {
		time.Sleep(d.InferDelay)
	}
	h := fnv.New32a()
	h.Write(data)
	confidence := 0.5 + float64(h.Sum32()%41)/100
	return []Detection{
		{
			Class:      "object",
			Confidence: math.Round(confidence*100) / 100,
			BBox:       [4]int{100, 120, 300, 350},
		},
	}, nil
}

// Close implements Backend interface
func (d *DummyDetector) Close() error {
	return nil
}

// RemoteBackend forwards inference requests to upstream ML backend server
type RemoteBackend struct {
	URI     string           // ML backend predict URI
	Version registry.Version // model version served by the backend
	Client  *http.Client
}

// remotePrediction represents ML backend response
type remotePrediction struct {
	Detections []Detection `json:"detections"`
}

// NewRemoteLoader returns Loader of RemoteBackend for given ML backend URI
func NewRemoteLoader(uri string, timeout time.Duration) Loader {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return LoaderFunc(func(ctx context.Context, v registry.Version) (Backend, error) {
		if uri == "" {
			return nil, errors.New("ML backend URI is not configured")
		}
		return &RemoteBackend{
			URI:     strings.TrimSuffix(uri, "/") + "/predict",
			Version: v,
			Client:  &http.Client{Timeout: timeout},
		}, nil
	})
}

// Predict implements Backend interface. Payload is sent as multipart form
// together with model name, version and artifact source fields.
func (b *RemoteBackend) Predict(ctx context.Context, data []byte) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("model", b.Version.Model)
	writer.WriteField("version", b.Version.Version)
	writer.WriteField("source", b.Version.Source)
	fw, err := writer.CreateFormFile("file", "payload")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URI, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	rsp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ML backend %s response status %s", b.URI, rsp.Status)
	}
	var rec remotePrediction
	if err := json.NewDecoder(rsp.Body).Decode(&rec); err != nil {
		return nil, err
	}
	return rec.Detections, nil
}

// Close implements Backend interface
func (b *RemoteBackend) Close() error {
	if b.Client != nil {
		b.Client.CloseIdleConnections()
	}
	return nil
}
