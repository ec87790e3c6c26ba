package server

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// ServeHTTP3 serves HTTP/3 over QUIC on conn, with the same certificate
// and reload behavior as ServeHTTPS. 0-RTT is disabled: queue pops and
// pushes are not safe to replay.
func (s *Server) ServeHTTP3(conn net.PacketConn) error {
	defer conn.Close()

	if s.opts.HttpHandler == nil {
		return errMissingHTTPHandler
	}

	cw, release, err := s.watchCert()
	if err != nil {
		return err
	}
	defer release()

	tr := &quic.Transport{Conn: conn}
	defer tr.Close()

	l, err := tr.ListenEarly(&tls.Config{
		MinVersion:     tls.VersionTLS13,
		NextProtos:     []string{http3.NextProtoH3},
		GetCertificate: cw.getCertificate,
	}, &quic.Config{
		MaxIdleTimeout:     s.opts.IdleTimeout,
		MaxIncomingStreams: 1000,
	})
	if err != nil {
		return fmt.Errorf("failed to listen quic, %w", err)
	}
	defer l.Close()

	hs := &http3.Server{
		Handler:        s.opts.HttpHandler,
		IdleTimeout:    s.opts.IdleTimeout,
		MaxHeaderBytes: defaultMaxHeaderBytes,
	}
	return s.serve(hs, func() error { return hs.ServeListener(l) })
}
