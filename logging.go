package main

// logging module provides various logging methods
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// custom rotate logger
type rotateLogWriter struct {
	RotateLogs *rotatelogs.RotateLogs
}

func (w rotateLogWriter) Write(data []byte) (int, error) {
	return w.RotateLogs.Write(data)
}

// custom logger
type logWriter struct {
}

func (writer logWriter) Write(data []byte) (int, error) {
	return fmt.Print(string(data))
}

// helper function to setup server logger, if log file is configured we use
// daily rotated log files
func setupLogger() error {
	log.SetFlags(0)
	if Config.Verbose > 0 {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	if Config.LogFile == "" {
		log.SetOutput(new(logWriter))
		return nil
	}
	rl, err := rotatelogs.New(LogName(), rotatelogs.WithMaxAge(7*24*time.Hour))
	if err != nil {
		return err
	}
	log.SetOutput(rotateLogWriter{RotateLogs: rl})
	return nil
}

// helper function to log every single user request
func logRequest(r *http.Request, start time.Time, status int, bytesOut int64, rid string) {
	dataMsg := fmt.Sprintf("[data: %v in %v out]", r.ContentLength, bytesOut)
	referer := r.Referer()
	if referer == "" {
		referer = "-"
	}
	addr := r.RemoteAddr
	refMsg := fmt.Sprintf("[ref: \"%s\" \"%v\"]", referer, r.Header.Get("User-Agent"))
	respMsg := fmt.Sprintf("[req: %v]", time.Since(start))
	uri, err := url.QueryUnescape(r.RequestURI)
	if err != nil {
		log.Println("unable to unescape request uri", err)
		uri = r.RequestURI
	}
	t := time.Now().Format(time.RFC3339)
	log.Printf("%s %s %d %s %s %s %s %s %s [id: %s]\n", t, r.Proto, status, addr, r.Method, uri, dataMsg, refMsg, respMsg, rid)
}
