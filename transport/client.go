package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

const (
	StoreTypePEM    = "pem"
	StoreTypePKCS12 = "pkcs12"
)

// StoreConfig locates a keystore or truststore.
type StoreConfig struct {
	Type     string `mapstructure:"type"`
	Path     string `mapstructure:"path"`
	Password string `mapstructure:"password"`
	// KeyPath is the PEM private key when Type is pem and the key is kept
	// apart from the certificate.
	KeyPath string `mapstructure:"key_path"`
}

// Config describes the TLS policy of outbound connections.
type Config struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	Protocols       []string      `mapstructure:"protocols"`
	CipherSuites    []string      `mapstructure:"cipher_suites"`
	VerifyHostnames bool          `mapstructure:"verify_hostnames"`
	KeyStore        StoreConfig   `mapstructure:"keystore"`
	TrustStore      StoreConfig   `mapstructure:"truststore"`
}

// DefaultConfig allows TLS 1.2 and 1.3 with the system roots.
func DefaultConfig() Config {
	return Config{
		Timeout:         5 * time.Minute,
		Protocols:       []string{"TLSv1.2", "TLSv1.3"},
		VerifyHostnames: true,
	}
}

// NewClient builds an HTTP client whose transport enforces cfg.
func NewClient(cfg Config) (*http.Client, error) {
	tlsConfig, err := TLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("default transport is not *http.Transport")
	}
	tr := base.Clone()
	tr.TLSClientConfig = tlsConfig
	tr.ForceAttemptHTTP2 = true

	return &http.Client{Transport: tr, Timeout: cfg.Timeout}, nil
}

// TLSConfig translates cfg into a tls.Config.
func TLSConfig(cfg Config) (*tls.Config, error) {
	minVersion, maxVersion, err := parseProtocols(cfg.Protocols)
	if err != nil {
		return nil, err
	}
	suites, err := parseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:   minVersion,
		MaxVersion:   maxVersion,
		CipherSuites: suites,
	}

	if cfg.KeyStore.Path != "" {
		cert, err := loadKeyStore(cfg.KeyStore)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.TrustStore.Path != "" {
		pool, err := loadTrustStore(cfg.TrustStore)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	if !cfg.VerifyHostnames {
		// Chain verification still runs, only the name check is skipped.
		tlsConfig.InsecureSkipVerify = true
		roots := tlsConfig.RootCAs
		tlsConfig.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyChain(cs, roots)
		}
	}

	return tlsConfig, nil
}

func verifyChain(cs tls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("server presented no certificate")
	}
	intermediates := x509.NewCertPool()
	for _, cert := range cs.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
	})
	if err != nil {
		return fmt.Errorf("verify server certificate chain: %w", err)
	}
	return nil
}

var protocolVersions = map[string]uint16{
	"TLSV1.2": tls.VersionTLS12,
	"TLSV1.3": tls.VersionTLS13,
}

func parseProtocols(names []string) (uint16, uint16, error) {
	if len(names) == 0 {
		return tls.VersionTLS12, 0, nil
	}
	var minVersion, maxVersion uint16
	for _, name := range names {
		version, ok := protocolVersions[strings.ToUpper(strings.TrimSpace(name))]
		if !ok {
			return 0, 0, fmt.Errorf("unsupported tls protocol %q", name)
		}
		if minVersion == 0 || version < minVersion {
			minVersion = version
		}
		if version > maxVersion {
			maxVersion = version
		}
	}
	return minVersion, maxVersion, nil
}

func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, suite := range tls.CipherSuites() {
		known[suite.Name] = suite.ID
	}

	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unsupported or insecure cipher suite %q", name)
		}
		suites = append(suites, id)
	}
	return suites, nil
}

func loadKeyStore(cfg StoreConfig) (tls.Certificate, error) {
	switch strings.ToLower(cfg.Type) {
	case "", StoreTypePEM:
		keyPath := cfg.KeyPath
		if keyPath == "" {
			keyPath = cfg.Path
		}
		cert, err := tls.LoadX509KeyPair(cfg.Path, keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("load keystore %q: %w", cfg.Path, err)
		}
		return cert, nil
	case StoreTypePKCS12:
		raw, err := os.ReadFile(cfg.Path)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("read keystore %q: %w", cfg.Path, err)
		}
		key, leaf, err := pkcs12.Decode(raw, cfg.Password)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decode keystore %q: %w", cfg.Path, err)
		}
		return tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		}, nil
	default:
		return tls.Certificate{}, fmt.Errorf("unsupported keystore type %q", cfg.Type)
	}
}

func loadTrustStore(cfg StoreConfig) (*x509.CertPool, error) {
	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read truststore %q: %w", cfg.Path, err)
	}

	pool := x509.NewCertPool()
	switch strings.ToLower(cfg.Type) {
	case "", StoreTypePEM:
		if !pool.AppendCertsFromPEM(raw) {
			return nil, fmt.Errorf("truststore %q holds no certificates", cfg.Path)
		}
	case StoreTypePKCS12:
		blocks, err := pkcs12.ToPEM(raw, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("decode truststore %q: %w", cfg.Path, err)
		}
		for _, block := range blocks {
			if block.Type != "CERTIFICATE" {
				continue
			}
			pool.AppendCertsFromPEM(pem.EncodeToMemory(block))
		}
	default:
		return nil, fmt.Errorf("unsupported truststore type %q", cfg.Type)
	}
	return pool, nil
}
