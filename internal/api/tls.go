package api

import (
	"crypto/tls"
	"os"
	"sync"

	"go.uber.org/zap"
)

// serverCert holds the PEM file paths for the HTTPS listener. Both must be
// present for TLS to turn on; a lone cert or key is ignored.
var (
	certMu     sync.RWMutex
	serverCert struct{ cert, key string }
)

// InitTLS reads KAMISHIBAI_TLS_CERT and KAMISHIBAI_TLS_KEY.
func InitTLS() {
	cert := os.Getenv("KAMISHIBAI_TLS_CERT")
	key := os.Getenv("KAMISHIBAI_TLS_KEY")

	certMu.Lock()
	defer certMu.Unlock()
	if cert == "" || key == "" {
		serverCert.cert, serverCert.key = "", ""
		return
	}
	serverCert.cert, serverCert.key = cert, key
}

// tlsFiles returns the configured cert and key paths. ok is false when TLS
// is off.
func tlsFiles() (cert, key string, ok bool) {
	certMu.RLock()
	defer certMu.RUnlock()
	return serverCert.cert, serverCert.key, serverCert.cert != "" && serverCert.key != ""
}

// IsTLSEnabled reports whether the listener will serve HTTPS.
func IsTLSEnabled() bool {
	_, _, ok := tlsFiles()
	return ok
}

// ServerTLSConfig builds the tls.Config for the listener. It returns nil
// when TLS is off or the certificate cannot be loaded.
func ServerTLSConfig() *tls.Config {
	cert, key, ok := tlsFiles()
	if !ok {
		return nil
	}

	pair, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		logger.Error("failed to load TLS certificate", zap.Error(err))
		return nil
	}

	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}
}

// SetTLSFilesForTest overrides the cert pair directly.
func SetTLSFilesForTest(cert, key string) {
	certMu.Lock()
	defer certMu.Unlock()
	serverCert.cert, serverCert.key = cert, key
}
