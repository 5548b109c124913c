package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
)

var ten = big.NewInt(10)

// RandomDigits returns a numeric string of length n drawn uniformly from crypto/rand.
func RandomDigits(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}

// RandomToken returns a URL-safe string encoding nbytes of entropy.
func RandomToken(nbytes int) (string, error) {
	b, err := RandBytes(nbytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RandomHex returns a lowercase hex string encoding nbytes of entropy.
func RandomHex(nbytes int) (string, error) {
	b, err := RandBytes(nbytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
