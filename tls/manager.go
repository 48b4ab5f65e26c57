package tls

import (
	"bufio"
	"crypto/sha256"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jittering/truststore"
)

// Manager keeps a local CA and a server certificate for the agent's LAN
// addresses. Web NFC only runs in a secure context, so phones must reach the
// agent over HTTPS signed by a CA they trust.
type Manager struct {
	dir        string
	tlsDir     string
	caDir      string
	caCertFile string
	certFile   string
	keyFile    string
	hostsFile  string
	extraHosts []string
	logger     *log.Logger

	// install adds the CA to the system trust store and issues a certificate
	// for hosts into dir. Replaced in tests.
	install func(hosts []string, dir string) (certFile, keyFile string, err error)
}

// NewManager stores certificates under dir. extraHosts, such as the mDNS
// host name, are added to the certificate alongside the LAN addresses.
func NewManager(dir string, logger *log.Logger, extraHosts ...string) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[tls] ", log.LstdFlags)
	}
	tlsDir := filepath.Join(dir, "tls")
	caDir := filepath.Join(dir, "ca")
	m := &Manager{
		dir:        dir,
		tlsDir:     tlsDir,
		caDir:      caDir,
		caCertFile: filepath.Join(caDir, "rootCA.pem"),
		certFile:   filepath.Join(tlsDir, "server.crt"),
		keyFile:    filepath.Join(tlsDir, "server.key"),
		hostsFile:  filepath.Join(tlsDir, "hosts.txt"),
		extraHosts: extraHosts,
		logger:     logger,
	}
	m.install = m.truststoreInstall
	return m
}

// Hosts returns the names the server certificate must cover.
func (m *Manager) Hosts() []string {
	hosts, err := GetAllHosts()
	if err != nil {
		m.logger.Printf("Warning: failed to get LAN IPs: %v", err)
	}
	for _, h := range m.extraHosts {
		if h != "" && !slices.Contains(hosts, h) {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// EnsureCertificates issues a server certificate when none exists or the
// host set changed, and returns the certificate and key paths.
func (m *Manager) EnsureCertificates() (certFile, keyFile string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create TLS directory: %w", err)
	}

	hosts := m.Hosts()
	switch {
	case !m.certsExist():
		m.logger.Printf("No server certificate, issuing one for %v", hosts)
	case m.hostsChanged(hosts):
		m.logger.Printf("Network addresses changed, reissuing certificate for %v", hosts)
	default:
		return m.certFile, m.keyFile, nil
	}

	if err := m.generate(hosts); err != nil {
		return "", "", err
	}
	return m.certFile, m.keyFile, nil
}

// ServerConfig ensures certificates and loads them into a TLS config.
func (m *Manager) ServerConfig() (*cryptotls.Config, error) {
	certFile, keyFile, err := m.EnsureCertificates()
	if err != nil {
		return nil, err
	}
	cert, err := cryptotls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{cert},
		MinVersion:   cryptotls.VersionTLS12,
	}, nil
}

func (m *Manager) certsExist() bool {
	_, certErr := os.Stat(m.certFile)
	_, keyErr := os.Stat(m.keyFile)
	return certErr == nil && keyErr == nil
}

func (m *Manager) hostsChanged(hosts []string) bool {
	cached, err := m.readCachedHosts()
	if err != nil {
		return true
	}
	a, b := slices.Clone(cached), slices.Clone(hosts)
	slices.Sort(a)
	slices.Sort(b)
	return !slices.Equal(a, b)
}

func (m *Manager) readCachedHosts() ([]string, error) {
	file, err := os.Open(m.hostsFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var hosts []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if host := strings.TrimSpace(scanner.Text()); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts, scanner.Err()
}

func (m *Manager) writeCachedHosts(hosts []string) error {
	return os.WriteFile(m.hostsFile, []byte(strings.Join(hosts, "\n")+"\n"), 0o600)
}

func (m *Manager) generate(hosts []string) error {
	certFile, keyFile, err := m.install(hosts, m.tlsDir)
	if err != nil {
		return err
	}
	if certFile != m.certFile {
		if err := os.Rename(certFile, m.certFile); err != nil {
			return fmt.Errorf("failed to rename cert file: %w", err)
		}
	}
	if keyFile != m.keyFile {
		if err := os.Rename(keyFile, m.keyFile); err != nil {
			return fmt.Errorf("failed to rename key file: %w", err)
		}
	}
	if err := m.writeCachedHosts(hosts); err != nil {
		m.logger.Printf("Warning: failed to cache hosts: %v", err)
	}

	m.logger.Printf("Certificate issued: %s", m.certFile)
	if fingerprint, err := m.CAFingerprint(); err == nil {
		m.logger.Printf("CA Fingerprint (SHA256): %s", fingerprint)
	}
	return nil
}

func (m *Manager) truststoreInstall(hosts []string, dir string) (string, string, error) {
	if err := os.MkdirAll(m.caDir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create CA directory: %w", err)
	}
	// truststore keeps its CA under CAROOT.
	os.Setenv("CAROOT", m.caDir)

	ml, err := truststore.NewLib()
	if err != nil {
		return "", "", fmt.Errorf("failed to initialize truststore: %w", err)
	}
	m.logger.Println("Installing CA in the system trust store (you may be prompted for your password)")
	if err := ml.Install(); err != nil {
		return "", "", fmt.Errorf("failed to install CA: %w", err)
	}
	cert, err := ml.MakeCert(hosts, dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate certificate: %w", err)
	}
	return cert.CertFile, cert.KeyFile, nil
}

// CACertFile returns the path of the CA certificate.
func (m *Manager) CACertFile() string {
	return m.caCertFile
}

// CAFingerprint returns the colon-separated SHA-256 fingerprint of the CA,
// shown to users so they can check the certificate they install.
func (m *Manager) CAFingerprint() (string, error) {
	certPEM, err := m.ReadCACert()
	if err != nil {
		return "", fmt.Errorf("failed to read CA certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// ReadCACert returns the CA certificate PEM.
func (m *Manager) ReadCACert() ([]byte, error) {
	return os.ReadFile(m.caCertFile)
}
