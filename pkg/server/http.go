/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 */

package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pires/go-proxyproto"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	// TLS handshake + HTTP headers (Slowloris protection)
	defaultReadHeaderTimeout = 3 * time.Second

	defaultIdleTimeout = 30 * time.Second

	defaultMaxHeaderBytes = 8 << 10
)

func (s *Server) newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(s.opts.Logger),
	}
}

// wrapListener reads PROXY protocol headers, v1 or v2, when enabled.
// Connections without a header are served with their socket address.
func (s *Server) wrapListener(l net.Listener) net.Listener {
	if !s.opts.ProxyProtocol {
		return l
	}
	return &proxyproto.Listener{
		Listener:          l,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
}

// ServeHTTP serves HTTP/1.1 and cleartext HTTP/2 (h2c) on l.
func (s *Server) ServeHTTP(l net.Listener) error {
	l = s.wrapListener(l)
	defer l.Close()

	if s.opts.HttpHandler == nil {
		return errMissingHTTPHandler
	}

	h2s := &http2.Server{IdleTimeout: s.opts.IdleTimeout}
	hs := s.newHTTPServer(h2c.NewHandler(s.opts.HttpHandler, h2s))
	return s.serve(hs, func() error { return hs.Serve(l) })
}

// ServeHTTPS serves HTTP/1.1 and HTTP/2 over TLS on l. The certificate is
// reloaded when its files change.
func (s *Server) ServeHTTPS(l net.Listener) error {
	l = s.wrapListener(l)
	defer l.Close()

	if s.opts.HttpHandler == nil {
		return errMissingHTTPHandler
	}
	cw, release, err := s.watchCert()
	if err != nil {
		return err
	}
	defer release()

	hs := s.newHTTPServer(s.opts.HttpHandler)
	hs.TLSConfig = &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: cw.getCertificate,
	}
	if err := http2.ConfigureServer(hs, &http2.Server{IdleTimeout: s.opts.IdleTimeout}); err != nil {
		return fmt.Errorf("failed to configure http2, %w", err)
	}
	return s.serve(hs, func() error { return hs.ServeTLS(l, "", "") })
}

// serve tracks hs while run serves on it.
func (s *Server) serve(hs io.Closer, run func() error) error {
	if ok := s.trackCloser(hs, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(hs, false)

	err := run()
	if errors.Is(err, http.ErrServerClosed) && s.Closed() {
		return ErrServerClosed
	}
	return err
}

// watchCert loads the configured certificate and tracks its watcher until
// release is called.
func (s *Server) watchCert() (cw *certWatcher, release func(), err error) {
	if len(s.opts.Cert) == 0 || len(s.opts.Key) == 0 {
		return nil, nil, errMissingCert
	}
	cw, err = tryCreateWatchCert(s.opts.Cert, s.opts.Key, s.opts.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load certificate, %w", err)
	}
	if !s.trackCloser(cw, true) {
		cw.Close()
		return nil, nil, ErrServerClosed
	}
	return cw, func() {
		s.trackCloser(cw, false)
		cw.Close()
	}, nil
}
