package main

// templates module
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"bytes"
	"embed"
	"html/template"
)

// StaticFs holds our static web server content.
//
//go:embed static
var StaticFs embed.FS

// TmplRecord represent template record
type TmplRecord map[string]interface{}

// Templates structure
type Templates struct {
	html string
}

// Tmpl method for ServerTemplates structure
func (q Templates) Tmpl(tfile string, tmplData map[string]interface{}) (string, error) {
	if q.html != "" {
		return q.html, nil
	}

	// get template from embed.FS
	filenames := []string{"static/templates/" + tfile}
	t, err := template.New(tfile).ParseFS(StaticFs, filenames...)
	if err != nil {
		return "", err
	}
	buf := new(bytes.Buffer)
	err = t.Execute(buf, tmplData)
	if err != nil {
		return "", err
	}
	q.html = buf.String()
	return q.html, nil
}
