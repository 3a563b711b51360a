package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
)

// certificateSubjectName is the fixed subject spec.md 6 names for a
// generated certificate.
const certificateSubjectName = "mediasoup"

const rsaKeyBits = 1024

var certificateValidity = 10 * 365 * 24 * time.Hour

// fingerprintHashes are the five hash kinds spec.md 3 says the
// certificate singleton precomputes.
var fingerprintHashes = []string{"SHA-1", "SHA-224", "SHA-256", "SHA-384", "SHA-512"}

// Certificate is the process-wide DTLS certificate/key singleton
// (spec.md 3/9: "initialized once before any reactor starts").
// Workers share it by reference; it is read-only after construction.
type Certificate struct {
	TLS          tls.Certificate
	Fingerprints map[string]string // hash name -> uppercase colon-separated hex
}

// GenerateCertificate creates a new 1024-bit RSA self-signed
// certificate per spec.md 6: subject O=CN="mediasoup", serial random
// in [10^6, 10^7), validity ±10 years from now.
func GenerateCertificate(rnd RandSerial) (*Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("transport: generating RSA key: %w", err)
	}

	serial, err := rnd.Int63n(9_000_000)
	if err != nil {
		return nil, err
	}
	serialNumber := big.NewInt(serial + 1_000_000)

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{certificateSubjectName},
			CommonName:   certificateSubjectName,
		},
		NotBefore:             now.Add(-certificateValidity),
		NotAfter:              now.Add(certificateValidity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("transport: creating self-signed certificate: %w", err)
	}

	return newCertificate(tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key})
}

// LoadCertificate builds a Certificate from a PEM-encoded cert/key pair
// on disk, per spec.md 6's "load PEM files" option.
func LoadCertificate(certFile, keyFile string) (*Certificate, error) {
	tlsCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: loading PEM certificate: %w", err)
	}
	return newCertificate(tlsCert)
}

func newCertificate(tlsCert tls.Certificate) (*Certificate, error) {
	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, err
	}

	prints := make(map[string]string, len(fingerprintHashes))
	for _, name := range fingerprintHashes {
		hashAlgo, err := fingerprint.HashFromString(name)
		if err != nil {
			return nil, err
		}
		fp, err := fingerprint.Fingerprint(leaf, hashAlgo)
		if err != nil {
			return nil, err
		}
		prints[name] = fp
	}

	return &Certificate{TLS: tlsCert, Fingerprints: prints}, nil
}

// RandSerial is the minimal randomness surface GenerateCertificate
// needs, satisfied by pkg/clock.Rand; kept as an interface here so
// this package does not need to import pkg/clock just for one method.
type RandSerial interface {
	Int63n(n int64) (int64, error)
}
