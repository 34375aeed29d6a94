package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifyPaystackSignature checks the X-Paystack-Signature header: the hex
// HMAC-SHA512 of the raw body keyed with the merchant's secret key.
func VerifyPaystackSignature(payload []byte, signatureHeader, secretKey string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secretKey == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignPaystack computes the header value Paystack would send.
func SignPaystack(payload []byte, secretKey string) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyFlutterwaveHash checks the verif-hash header against the secret hash
// configured on the merchant's Flutterwave dashboard.
func VerifyFlutterwaveHash(hashHeader, secretHash string) bool {
	h := strings.TrimSpace(hashHeader)
	if h == "" || secretHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(h), []byte(secretHash)) == 1
}
