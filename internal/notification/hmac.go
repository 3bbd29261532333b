package notification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMissingSignature = errors.New("notification: missing hmacSignature")
	ErrInvalidHMACKey   = errors.New("notification: HMAC key is not valid hex")
)

// Validator authenticates a notification item.
// A false result means the signature did not match; an error means the
// signature could not be checked at all.
type Validator interface {
	Validate(item *Item) (bool, error)
}

// HMACValidator checks Adyen's HMAC-SHA256 item signatures.
type HMACValidator struct {
	key string
}

var _ Validator = (*HMACValidator)(nil)

// NewHMACValidator takes the hex key from the Customer Area.
func NewHMACValidator(hexKey string) *HMACValidator {
	return &HMACValidator{key: hexKey}
}

// Validate recomputes the signature and compares it in constant time.
func (v *HMACValidator) Validate(item *Item) (bool, error) {
	given := item.additional(KeyHMACSignature)
	if given == "" {
		return false, ErrMissingSignature
	}
	expected, err := v.Sign(item)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(given)), nil
}

// Sign returns the base64 signature Adyen would send for item.
func (v *HMACValidator) Sign(item *Item) (string, error) {
	if v.key == "" {
		return "", ErrInvalidHMACKey
	}
	key, err := hex.DecodeString(v.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHMACKey, err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(SigningString(item)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// SigningString is the colon-joined payload covered by the signature.
func SigningString(item *Item) string {
	return strings.Join([]string{
		item.PSPReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		string(item.EventCode),
		item.Success,
	}, ":")
}
