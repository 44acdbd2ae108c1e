// Package auth loads credentials used to authenticate against the warehouse.
package auth

import (
	"crypto/rsa"
	"encoding/pem"
	"os"

	"github.com/youmark/pkcs8"

	"github.com/ajitpratap0/airbridge/pkg/errors"
)

// LoadPrivateKey reads a PEM encoded PKCS#8 RSA key from path, decrypting it
// with passphrase when the key is encrypted.
func LoadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read private key file")
	}
	return ParsePrivateKey(data, passphrase)
}

// ParsePrivateKey decodes a PEM encoded PKCS#8 RSA key.
func ParsePrivateKey(data []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New(errors.ErrorTypeAuthentication, "private key is not PEM encoded")
	}

	var (
		key *rsa.PrivateKey
		err error
	)
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		if passphrase == "" {
			return nil, errors.New(errors.ErrorTypeAuthentication, "private key is encrypted but no passphrase was given")
		}
		key, err = pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
	} else {
		key, err = pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to parse private key")
	}
	return key, nil
}
