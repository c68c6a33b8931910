package registry

// client functions for MLflow model registry REST API, see
// https://mlflow.org/docs/latest/rest-api.html
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MLflow error codes we rely on
const (
	mlflowNotFound      = "RESOURCE_DOES_NOT_EXIST"
	mlflowAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	mlflowInvalidParam  = "INVALID_PARAMETER_VALUE"
)

// MLflow implements Registry on top of MLflow tracking server REST API
type MLflow struct {
	URI     string       // tracking server URI, e.g. http://localhost:5000
	Client  *http.Client // HTTP client to use
	Verbose int          // verbosity level
}

// NewMLflow creates MLflow registry client for given tracking URI
func NewMLflow(uri string) *MLflow {
	return &MLflow{
		URI:    strings.TrimSuffix(uri, "/"),
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// mlflowError represents MLflow REST error record
type mlflowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// mlflowModelVersion represents MLflow model version record
type mlflowModelVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source"`
	Status  string `json:"status"`
}

type mlflowVersionResponse struct {
	ModelVersion mlflowModelVersion `json:"model_version"`
}

// ResolveAlias implements Resolver interface
func (m *MLflow) ResolveAlias(ctx context.Context, model, alias string) (Version, error) {
	params := url.Values{}
	params.Set("name", model)
	params.Set("alias", alias)
	var rec mlflowVersionResponse
	err := m.call(ctx, http.MethodGet, "registered-models/alias?"+params.Encode(), nil, &rec)
	if errors.Is(err, errInvalidParameter) {
		// MLflow reports unbound alias of existing model as invalid parameter
		return Version{}, fmt.Errorf("alias %s:%s: %v: %w", model, alias, err, ErrNotFound)
	}
	if err != nil {
		return Version{}, err
	}
	if rec.ModelVersion.Version == "" {
		return Version{}, fmt.Errorf("alias %s:%s has no version: %w", model, alias, ErrNotFound)
	}
	return Version{
		Model:   model,
		Version: rec.ModelVersion.Version,
		Source:  rec.ModelVersion.Source,
	}, nil
}

// SetAlias implements Registry interface
func (m *MLflow) SetAlias(ctx context.Context, model, alias, version string) error {
	body := map[string]string{"name": model, "alias": alias, "version": version}
	return m.call(ctx, http.MethodPost, "registered-models/alias", body, nil)
}

// RegisterVersion implements Registry interface. It creates registered model
// if it does not exist yet and new model version for given source.
func (m *MLflow) RegisterVersion(ctx context.Context, model, source string) (Version, error) {
	err := m.call(ctx, http.MethodPost, "registered-models/create", map[string]string{"name": model}, nil)
	if err != nil && !errors.Is(err, errAlreadyExists) {
		return Version{}, err
	}
	var rec mlflowVersionResponse
	body := map[string]string{"name": model, "source": source}
	if err := m.call(ctx, http.MethodPost, "model-versions/create", body, &rec); err != nil {
		return Version{}, err
	}
	return Version{Model: model, Version: rec.ModelVersion.Version, Source: rec.ModelVersion.Source}, nil
}

var (
	errAlreadyExists    = errors.New("already exists")
	errInvalidParameter = errors.New("invalid parameter")
)

// helper function to perform MLflow REST API call
func (m *MLflow) call(ctx context.Context, method, api string, body, out any) error {
	rurl := fmt.Sprintf("%s/api/2.0/mlflow/%s", m.URI, api)
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rurl, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if m.Verbose > 0 {
		log.Printf("MLflow %s %s", method, rurl)
	}
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	rsp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, rurl, err, ErrUnavailable)
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return fmt.Errorf("unable to read MLflow response: %v: %w", err, ErrUnavailable)
	}
	if rsp.StatusCode != http.StatusOK {
		return classify(rsp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unable to parse MLflow response: %v: %w", err, ErrUnavailable)
	}
	return nil
}

// helper function to convert MLflow error response into registry error
func classify(status int, data []byte) error {
	var rec mlflowError
	json.Unmarshal(data, &rec)
	msg := rec.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	switch {
	case rec.ErrorCode == mlflowNotFound || status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	case rec.ErrorCode == mlflowAlreadyExists:
		return fmt.Errorf("%s: %w", msg, errAlreadyExists)
	case rec.ErrorCode == mlflowInvalidParam:
		return fmt.Errorf("HTTP %d %s: %w: %w", status, msg, errInvalidParameter, ErrRejected)
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout:
		return fmt.Errorf("HTTP %d %s %s: %w", status, rec.ErrorCode, msg, ErrRejected)
	}
	return fmt.Errorf("HTTP %d %s %s: %w", status, rec.ErrorCode, msg, ErrUnavailable)
}
