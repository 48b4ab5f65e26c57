package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quietManager(t *testing.T, extra ...string) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), log.New(io.Discard, "", 0), extra...)
}

// selfSigned writes a PEM certificate and key into dir.
func selfSigned(t *testing.T, dir, name string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certFile = filepath.Join(dir, name+".pem")
	keyFile = filepath.Join(dir, name+"-key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestNewManagerPaths(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, nil)

	tests := []struct{ got, want string }{
		{mgr.tlsDir, filepath.Join(dir, "tls")},
		{mgr.certFile, filepath.Join(dir, "tls", "server.crt")},
		{mgr.keyFile, filepath.Join(dir, "tls", "server.key")},
		{mgr.CACertFile(), filepath.Join(dir, "ca", "rootCA.pem")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("path = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestHostsIncludesExtraNames(t *testing.T) {
	mgr := quietManager(t, "closet.local", "", "localhost")
	hosts := mgr.Hosts()

	count := map[string]int{}
	for _, h := range hosts {
		count[h]++
	}
	if count["closet.local"] != 1 {
		t.Errorf("hosts = %v, want closet.local once", hosts)
	}
	if count["localhost"] != 1 {
		t.Errorf("hosts = %v, want localhost once", hosts)
	}
	if count[""] != 0 {
		t.Errorf("hosts = %v, contains an empty name", hosts)
	}
}

func TestHostsChanged(t *testing.T) {
	mgr := quietManager(t)
	if err := os.MkdirAll(mgr.tlsDir, 0o700); err != nil {
		t.Fatal(err)
	}

	if !mgr.hostsChanged([]string{"localhost"}) {
		t.Error("hostsChanged = false with no cache, want true")
	}
	if err := mgr.writeCachedHosts([]string{"localhost", "127.0.0.1"}); err != nil {
		t.Fatalf("writeCachedHosts: %v", err)
	}

	tests := []struct {
		hosts []string
		want  bool
	}{
		{[]string{"localhost", "127.0.0.1"}, false},
		{[]string{"127.0.0.1", "localhost"}, false},
		{[]string{"localhost", "127.0.0.1", "192.168.1.1"}, true},
		{[]string{"localhost"}, true},
	}
	for _, tt := range tests {
		if got := mgr.hostsChanged(tt.hosts); got != tt.want {
			t.Errorf("hostsChanged(%v) = %v, want %v", tt.hosts, got, tt.want)
		}
	}
}

func TestEnsureCertificatesIssuesOnce(t *testing.T) {
	mgr := quietManager(t)
	installs := 0
	mgr.install = func(hosts []string, dir string) (string, string, error) {
		installs++
		certFile, keyFile := selfSigned(t, dir, "issued")
		return certFile, keyFile, nil
	}

	certFile, keyFile, err := mgr.EnsureCertificates()
	if err != nil {
		t.Fatalf("EnsureCertificates: %v", err)
	}
	if certFile != mgr.certFile || keyFile != mgr.keyFile {
		t.Errorf("paths = %q, %q, want the managed paths", certFile, keyFile)
	}
	if _, err := os.Stat(filepath.Join(mgr.tlsDir, "issued.pem")); !os.IsNotExist(err) {
		t.Error("issued certificate was not renamed into place")
	}
	cached, err := mgr.readCachedHosts()
	if err != nil || len(cached) < 2 {
		t.Errorf("cached hosts = %v, %v", cached, err)
	}

	if _, _, err := mgr.EnsureCertificates(); err != nil {
		t.Fatalf("second EnsureCertificates: %v", err)
	}
	if installs != 1 {
		t.Errorf("installs = %d, want 1", installs)
	}

	if err := mgr.writeCachedHosts([]string{"10.9.8.7"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := mgr.EnsureCertificates(); err != nil {
		t.Fatalf("EnsureCertificates after host change: %v", err)
	}
	if installs != 2 {
		t.Errorf("installs = %d after host change, want 2", installs)
	}
}

func TestServerConfig(t *testing.T) {
	mgr := quietManager(t)
	mgr.install = func(hosts []string, dir string) (string, string, error) {
		certFile, keyFile := selfSigned(t, dir, "issued")
		return certFile, keyFile, nil
	}

	cfg, err := mgr.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(cfg.Certificates))
	}
}

func TestCAFingerprintAndHandler(t *testing.T) {
	mgr := quietManager(t)

	rec := httptest.NewRecorder()
	mgr.CAHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ca.pem", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status without CA = %d, want 404", rec.Code)
	}
	if _, err := mgr.CAFingerprint(); err == nil {
		t.Error("CAFingerprint without CA succeeded")
	}

	if err := os.MkdirAll(mgr.caDir, 0o700); err != nil {
		t.Fatal(err)
	}
	certFile, _ := selfSigned(t, mgr.caDir, "ca")
	if err := os.Rename(certFile, mgr.CACertFile()); err != nil {
		t.Fatal(err)
	}

	fp, err := mgr.CAFingerprint()
	if err != nil {
		t.Fatalf("CAFingerprint: %v", err)
	}
	if parts := strings.Split(fp, ":"); len(parts) != 32 {
		t.Errorf("fingerprint %q has %d parts, want 32", fp, len(parts))
	}

	rec = httptest.NewRecorder()
	mgr.CAHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ca.pem", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-pem-file" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "closet-nfc-ca.pem") {
		t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	if !strings.HasPrefix(rec.Body.String(), "-----BEGIN CERTIFICATE-----") {
		t.Error("body is not a PEM certificate")
	}
}

func TestCertsExist(t *testing.T) {
	mgr := quietManager(t)
	if err := os.MkdirAll(mgr.tlsDir, 0o700); err != nil {
		t.Fatal(err)
	}

	if mgr.certsExist() {
		t.Error("certsExist = true with no files")
	}
	os.WriteFile(mgr.certFile, []byte("cert"), 0o600)
	if mgr.certsExist() {
		t.Error("certsExist = true with only the certificate")
	}
	os.WriteFile(mgr.keyFile, []byte("key"), 0o600)
	if !mgr.certsExist() {
		t.Error("certsExist = false with both files")
	}
}
