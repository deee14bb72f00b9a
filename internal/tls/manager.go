package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/util"
)

// ErrNoCertificate is returned in production when neither ACME nor a
// certificate file is usable.
var ErrNoCertificate = errors.New("no TLS certificate available")

// TLSManager picks the serving certificate: ACME first, then the configured
// key pair, then (outside production) a self-signed development certificate.
type TLSManager struct {
	cfg        config.ServerConfig
	production bool
	autoCert   *autocert.Manager

	fileOnce sync.Once
	fileCert *tls.Certificate
	fileErr  error

	devOnce sync.Once
	devCert *tls.Certificate
	devErr  error
}

func NewTLSManager(cfg config.ServerConfig, production bool) *TLSManager {
	m := &TLSManager{cfg: cfg, production: production}
	if cfg.AutoCert && cfg.EnableTLS {
		m.setupAutoCert()
	}
	return m
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.cfg.AutoCertDir, 0o700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.cfg.Domain),
		Cache:      autocert.DirCache(m.cfg.AutoCertDir),
		Email:      m.cfg.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.cfg.Domain),
		zap.String("cache_dir", m.cfg.AutoCertDir))
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert certificate unavailable, falling back", zap.Error(err))
	}

	if m.cfg.CertFile != "" && m.cfg.KeyFile != "" {
		m.fileOnce.Do(func() {
			cert, err := tls.LoadX509KeyPair(m.cfg.CertFile, m.cfg.KeyFile)
			if err != nil {
				m.fileErr = fmt.Errorf("failed to load TLS key pair: %w", err)
				return
			}
			m.fileCert = &cert
		})
		if m.fileErr == nil {
			return m.fileCert, nil
		}
		util.Warn("TLS key pair unavailable", zap.Error(m.fileErr))
	}

	if m.production {
		return nil, ErrNoCertificate
	}
	return m.selfSigned()
}

func (m *TLSManager) selfSigned() (*tls.Certificate, error) {
	m.devOnce.Do(func() {
		hosts := []string{m.cfg.Domain, "localhost", "127.0.0.1", "::1"}
		cert, err := NewDevCertGenerator(m.cfg.AutoCertDir).GenerateCert(hosts)
		if err != nil {
			m.devErr = fmt.Errorf("failed to generate self-signed certificate: %w", err)
			return
		}
		m.devCert = &cert
	})
	return m.devCert, m.devErr
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// HTTPHandler answers ACME http-01 challenges and hands everything else to
// fallback. Without ACME it returns fallback unchanged.
func (m *TLSManager) HTTPHandler(fallback http.Handler) http.Handler {
	if m.autoCert == nil {
		return fallback
	}
	return m.autoCert.HTTPHandler(fallback)
}
