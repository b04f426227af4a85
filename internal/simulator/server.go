package simulator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jetsoncontrols/ha-nax/internal/logging"
)

// ServerConfig holds the standalone simulator configuration.
type ServerConfig struct {
	Host     string
	Port     int
	CertPath string // Optional; a certificate is generated when empty
	KeyPath  string
	Device   Config
}

// Server runs a Device behind a TLS listener.
type Server struct {
	config   ServerConfig
	device   *Device
	tls      *tls.Config
	http     *http.Server
	listener net.Listener
}

// NewServer prepares a simulator server.
func NewServer(config ServerConfig) (*Server, error) {
	var tlsConfig *tls.Config
	if config.CertPath != "" {
		pair, err := tls.LoadX509KeyPair(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{pair}, MinVersion: tls.VersionTLS12}
	} else {
		params := DefaultCertParams()
		if config.Host != "" {
			params.Hosts = append(params.Hosts, config.Host)
		}
		cert, err := GenerateServerCert(params)
		if err != nil {
			return nil, fmt.Errorf("failed to generate certificate: %w", err)
		}
		if tlsConfig, err = cert.TLSConfig(); err != nil {
			return nil, err
		}
		logging.Info("Using generated self-signed certificate",
			zap.String("CN", cert.Certificate.Subject.CommonName),
			zap.Time("not_after", cert.Certificate.NotAfter))
	}

	device := NewDevice(config.Device)
	return &Server{
		config: config,
		device: device,
		tls:    tlsConfig,
		http: &http.Server{
			Handler:           device,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Device returns the simulated device.
func (s *Server) Device() *Device { return s.device }

// Addr returns the listening address once Run has started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen opens the TLS listener.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	ln, err := tls.Listen("tcp", addr, s.tls)
	if err != nil {
		return fmt.Errorf("failed to create TLS listener: %w", err)
	}
	s.listener = ln
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	logging.Info("NAX simulator listening", zap.String("addr", s.Addr()))

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutting down simulator...")
		s.device.DropConnections()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
