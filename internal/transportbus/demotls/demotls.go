// Package demotls generates an ephemeral self-signed certificate for the
// demo QUIC and WebSocket listeners in internal/transportbus. Production
// deployments of the public and private channels are not TLS at all (they
// are a 433MHz radio and a line-of-sight light channel); this package
// exists only so the network-backed demo transports have something to
// hand quic-go and net/http for their own session encryption, which is
// unrelated to and layered below Openepo's own AEAD protection.
package demotls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Server generates a self-signed certificate valid for commonName and any
// given IP SANs, and a *tls.Config presenting it with nextProto in its
// ALPN list.
func Server(commonName string, ips []net.IP, nextProto string) (*tls.Config, error) {
	cert, err := generate(commonName, ips)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{nextProto},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// Client returns a *tls.Config that trusts no particular certificate: the
// demo transports rely on Openepo's own AEAD protection for integrity, not
// on the transport-layer TLS session, so client verification is skipped
// the same way the teacher's development mode does.
func Client(nextProto string) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{nextProto},
		MinVersion:         tls.VersionTLS13,
	}
}

func generate(commonName string, ips []net.IP) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("demotls: generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("demotls: generating serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("demotls: creating certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
