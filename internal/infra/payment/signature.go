package payment

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"telegram-paywall-bot/internal/config"
)

// RobokassaSigner implements the merchant-side MD5 signature scheme:
// colon-joined base string plus alphabetically sorted "key=value" custom
// parameters. Password1 signs outgoing charge URLs, Password2 verifies
// inbound result notifications.
type RobokassaSigner struct {
	Login     string
	Password1 string
	Password2 string
	Scheme    config.SignatureScheme
}

// SignCharge produces the signature for the payment URL:
// MD5(login:outSum:invID:password1[:k=v:...]).
func (s *RobokassaSigner) SignCharge(outSum, invID string, params map[string]string) string {
	base := fmt.Sprintf("%s:%s:%s:%s", s.Login, outSum, invID, s.Password1)
	return md5Hex(base + paramsSuffix(params))
}

// SignStatusRequest signs the OpState status poll: MD5(login:invID:password2).
func (s *RobokassaSigner) SignStatusRequest(invID string) string {
	return md5Hex(fmt.Sprintf("%s:%s:%s", s.Login, invID, s.Password2))
}

// VerifyResult checks an inbound result notification:
// MD5(outSum:invID:password2[:k=v:...]). The signature field itself and any
// crc field are stripped from the parameter set before sorting. Which of the
// remaining parameters participate depends on the configured scheme.
// Robokassa compares hex case-insensitively; the comparison is constant-time
// either way.
func (s *RobokassaSigner) VerifyResult(outSum, invID, signature string, params map[string]string) bool {
	if outSum == "" || invID == "" || signature == "" {
		return false
	}
	base := fmt.Sprintf("%s:%s:%s", outSum, invID, s.Password2)
	expected := md5Hex(base + paramsSuffix(s.filterParams(params)))
	return equalFoldConstantTime(expected, signature)
}

func (s *RobokassaSigner) filterParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch strings.ToLower(k) {
		case "signaturevalue", "crc":
			continue
		}
		if s.Scheme == config.SchemeShpOnly && !strings.HasPrefix(strings.ToLower(k), "shp_") {
			continue
		}
		out[k] = v
	}
	return out
}

func paramsSuffix(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return ":" + strings.Join(parts, ":")
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// equalFoldConstantTime compares two hex strings case-insensitively without
// leaking how long a matching prefix is.
func equalFoldConstantTime(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if len(la) != len(lb) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(la), []byte(lb)) == 1
}

// CryptoCloudVerifier authenticates crypto-invoice webhooks with a keyed
// hash over "postback.{invoiceUUID}". Unlike the Robokassa scheme the hex
// digest is compared byte-for-byte, case-sensitively.
type CryptoCloudVerifier struct {
	Secret string
}

func (v *CryptoCloudVerifier) Sign(invoiceUUID string) string {
	h := hmac.New(sha256.New, []byte(v.Secret))
	h.Write([]byte("postback." + invoiceUUID))
	return hex.EncodeToString(h.Sum(nil))
}

func (v *CryptoCloudVerifier) Verify(invoiceUUID, signature string) bool {
	if invoiceUUID == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(v.Sign(invoiceUUID)), []byte(signature))
}

// FormatOutSum renders minor units as the decimal string providers expect,
// e.g. 10000 -> "100.00".
func FormatOutSum(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// ParseOutSum reads a provider decimal amount back into minor units.
// Accepts "100", "100.5" and "100.500000" spellings. Amounts are charges,
// never refunds, so a negative sign is malformed input.
func ParseOutSum(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "-") {
		return 0, fmt.Errorf("amount %q: negative", s)
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	if frac == "" {
		return units * 100, nil
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	return units*100 + cents, nil
}
