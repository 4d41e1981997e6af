package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/btcsuite/bsd/config"
)

// tlsConfigFor builds the *tls.Config a session.Listener hands to
// tls.Server for ep. A plaintext endpoint (no TLSCert configured)
// returns nil. When TLSCert/TLSKey are set but the files don't exist
// yet, a self-signed certificate is generated and written out, the
// same bootstrap convenience lnd's rpc TLS setup offers on first run. ep.CAFile, if set, is loaded as a client-cert
// verification root and client certificates become mandatory.
func tlsConfigFor(ep config.EndpointConfig) *tls.Config {
	if ep.TLSCert == "" || ep.TLSKey == "" {
		return nil
	}

	if _, err := os.Stat(ep.TLSCert); os.IsNotExist(err) {
		if err := generateSelfSignedCert(ep.TLSCert, ep.TLSKey); err != nil {
			log.Errorf("tls: failed to generate self-signed cert for %s: %v", ep.Listen, err)
			return nil
		}
	}

	cert, err := tls.LoadX509KeyPair(ep.TLSCert, ep.TLSKey)
	if err != nil {
		log.Errorf("tls: failed to load cert/key for %s: %v", ep.Listen, err)
		return nil
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if ep.CAFile != "" {
		caBytes, err := os.ReadFile(ep.CAFile)
		if err != nil {
			log.Errorf("tls: failed to read cafile %s: %v", ep.CAFile, err)
			return cfg
		}
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM(caBytes) {
			cfg.ClientCAs = pool
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	return cfg
}

// generateSelfSignedCert writes a fresh ECDSA P-256 self-signed
// certificate/key pair to certPath/keyPath, valid for one year.
func generateSelfSignedCert(certPath, keyPath string) error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "bsd autogenerated cert"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return err
	}

	certOut, err := os.OpenFile(certPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer certOut.Close()
	if err := pemEncode(certOut, "CERTIFICATE", der); err != nil {
		return err
	}

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return err
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer keyOut.Close()
	return pemEncode(keyOut, "EC PRIVATE KEY", keyBytes)
}

func pemEncode(w io.Writer, blockType string, der []byte) error {
	return pem.Encode(w, &pem.Block{Type: blockType, Bytes: der})
}
