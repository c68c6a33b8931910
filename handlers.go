package main

// handlers module holds all HTTP handlers functions
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"compress/gzip"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/vkuznet/mlpromote/serving"
)

// AdminTokenHeader is HTTP header carrying admin credential
const AdminTokenHeader = "X-Admin-Token"

// HTTPError represents HTTP error record
type HTTPError struct {
	Method    string `json:"method"`    // HTTP method
	Path      string `json:"path"`      // URL path
	HTTPCode  int    `json:"http_code"` // HTTP error code
	Code      int    `json:"code"`      // server status code
	Reason    string `json:"reason"`    // error code reason
	Error     string `json:"error"`     // error message
	Timestamp string `json:"timestamp"` // timestamp of the error
}

// Handlers holds serving node used by HTTP handlers
type Handlers struct {
	Node       *serving.Node // serving node
	AdminToken string        // admin token for /admin APIs
	MaxPayload int64         // max size of predict payload
}

// helper function to write JSON response
func writeJSON(w http.ResponseWriter, httpCode int, rec any) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Println("ERROR: unable to marshal response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	w.Write(data)
}

// helper function to provide standard HTTP error reply
func httpError(w http.ResponseWriter, r *http.Request, code int, err error, httpCode int) {
	hrec := HTTPError{
		Method:    r.Method,
		Path:      r.RequestURI,
		HTTPCode:  httpCode,
		Code:      code,
		Reason:    errorMessage(code),
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if Config.Verbose > 0 {
		log.Printf("HTTPError: %+v", hrec)
	}
	writeJSON(w, httpCode, hrec)
}

// helper function to check if HTTP request contains form-data
func formData(r *http.Request) bool {
	for key, values := range r.Header {
		if strings.ToLower(key) == "content-type" {
			for _, v := range values {
				if strings.Contains(strings.ToLower(v), "form-data") {
					return true
				}
			}
		}
	}
	return false
}

// helper function to read predict payload either from multipart form file
// or from raw request body
func readPayload(w http.ResponseWriter, r *http.Request, maxPayload int64) (serving.Payload, error) {
	var p serving.Payload
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Encoding")), "gzip") {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return p, err
		}
		r.Body = GzipReader{gz, r.Body}
		r.Header.Del("Content-Encoding")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)
	if formData(r) {
		err := r.ParseMultipartForm(maxPayload)
		if err != nil {
			return p, err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return p, err
		}
		defer file.Close()
		p.Filename = header.Filename
		p.ContentType = header.Header.Get("Content-Type")
		p.Data, err = io.ReadAll(file)
		return p, err
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return p, err
	}
	if len(data) == 0 {
		return p, errors.New("empty payload, please provide file")
	}
	p.Filename = r.URL.Query().Get("filename")
	p.ContentType = r.Header.Get("Content-Type")
	p.Data = data
	return p, nil
}

// LiveHandler handles process liveness requests
func (h *Handlers) LiveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Node.Liveness())
}

// ReadyHandler handles model readiness requests, it never blocks on reload
func (h *Handlers) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	var rec ReadyRecord = h.Node.Readiness()
	writeJSON(w, http.StatusOK, rec)
}

// PingHandler handles ping requests
func (h *Handlers) PingHandler(w http.ResponseWriter, r *http.Request) {
	rec := PingRecord{Status: "ok", ModelVersion: h.Node.Readiness().Version}
	writeJSON(w, http.StatusOK, rec)
}

// ReloadHandler handles admin reload requests
func (h *Handlers) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(AdminTokenHeader)
	if h.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) != 1 {
		httpError(w, r, Unauthorized, errors.New("invalid or missing admin token"), http.StatusUnauthorized)
		return
	}
	// reload should complete even if client goes away
	ctx := context.WithoutCancel(r.Context())
	snap, err := h.Node.Reload(ctx)
	if err != nil {
		httpError(w, r, ModelLoadError, err, http.StatusInternalServerError)
		return
	}
	rec := ReloadRecord{Status: "reloaded", ModelVersion: snap.Version}
	writeJSON(w, http.StatusOK, rec)
}

// PredictHandler handles inference requests
func (h *Handlers) PredictHandler(w http.ResponseWriter, r *http.Request) {
	if h.Node.Reloading() {
		httpError(w, r, ReloadInProgress, serving.ErrReloading, http.StatusServiceUnavailable)
		return
	}
	payload, err := readPayload(w, r, h.MaxPayload)
	if err != nil {
		httpError(w, r, BadRequest, fmt.Errorf("unable to read payload: %w", err), http.StatusBadRequest)
		return
	}
	rec, err := h.Node.Predict(r.Context(), payload)
	if err != nil {
		if errors.Is(err, serving.ErrReloading) {
			httpError(w, r, ReloadInProgress, err, http.StatusServiceUnavailable)
		} else if errors.Is(err, serving.ErrNotReady) {
			httpError(w, r, ModelNotReady, err, http.StatusServiceUnavailable)
		} else {
			httpError(w, r, PredictionError, err, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DocsHandler provides server API documentation
func (h *Handlers) DocsHandler(w http.ResponseWriter, r *http.Request) {
	content, err := mdToHTML("static/md/docs.md")
	if err != nil {
		httpError(w, r, FileIOError, err, http.StatusInternalServerError)
		return
	}
	tmpl := make(TmplRecord)
	tmpl["Title"] = "mlpromote API"
	tmpl["Content"] = template.HTML(content)
	tmpl["Base"] = Config.Base
	tmpl["ServerInfo"] = info()
	var templates Templates
	page, err := templates.Tmpl("docs.tmpl", tmpl)
	if err != nil {
		httpError(w, r, FileIOError, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(page))
}
