package tls

import (
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkohli77/chatbot/internal/config"
)

func TestDevCertGeneratorReusesValidCert(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"widget.local", "127.0.0.1"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "widget.local")
	assert.Len(t, leaf.IPAddresses, 1)

	second, err := gen.GenerateCert([]string{"widget.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
	assert.FileExists(t, filepath.Join(dir, "dev-key.pem"))
}

func TestDevCertGeneratorReplacesExpiredCert(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	gen.now = func() time.Time { return time.Now().Add(400 * 24 * time.Hour) }
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestGetCertificateFallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{Domain: "localhost", AutoCertDir: t.TempDir()}, false)

	a, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	b, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestGetCertificateUsesKeyPair(t *testing.T) {
	dir := t.TempDir()
	_, err := NewDevCertGenerator(dir).GenerateCert([]string{"api.example.com"})
	require.NoError(t, err)

	m := NewTLSManager(config.ServerConfig{
		CertFile: filepath.Join(dir, "dev-cert.pem"),
		KeyFile:  filepath.Join(dir, "dev-key.pem"),
	}, true)

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "api.example.com"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "api.example.com")
}

func TestGetCertificateProductionWithoutCert(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{CertFile: "/nonexistent.pem", KeyFile: "/nonexistent.key"}, true)

	_, err := m.GetCertificate(&tls.ClientHelloInfo{})
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestGetTLSConfig(t *testing.T) {
	cfg := NewTLSManager(config.ServerConfig{}, false).GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotNil(t, cfg.GetCertificate)
}
