package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	tc3Algorithm     = "TC3-HMAC-SHA256"
	tc3RequestSuffix = "tc3_request"
	tc3SignedHeaders = "content-type;host"
	tc3ContentType   = "application/json"
)

// TC3 signs requests with cloud signature v3 (TC3-HMAC-SHA256).
type TC3 struct {
	SecretID  string
	SecretKey string
	Signing
}

// CanonicalRequest is the newline-joined method, URI, empty query,
// canonical headers, signed header list and payload digest.
func (t TC3) CanonicalRequest(payload []byte) string {
	headers := "content-type:" + tc3ContentType + "\nhost:" + t.Host + "\n"
	return "POST\n/\n\n" + headers + "\n" + tc3SignedHeaders + "\n" + sha256hex(payload)
}

// Scope is date/service/tc3_request. The date is always UTC.
func (t TC3) Scope(at time.Time) string {
	return at.UTC().Format("2006-01-02") + "/" + t.Service + "/" + tc3RequestSuffix
}

func (t TC3) StringToSign(payload []byte, at time.Time) string {
	return tc3Algorithm + "\n" +
		strconv.FormatInt(at.Unix(), 10) + "\n" +
		t.Scope(at) + "\n" +
		sha256hex([]byte(t.CanonicalRequest(payload)))
}

func (t TC3) Signature(payload []byte, at time.Time) string {
	date := at.UTC().Format("2006-01-02")
	k := hmacSHA256([]byte("TC3"+t.SecretKey), date)
	k = hmacSHA256(k, t.Service)
	k = hmacSHA256(k, tc3RequestSuffix)
	return hex.EncodeToString(hmacSHA256(k, t.StringToSign(payload, at)))
}

func (t TC3) Authorization(payload []byte, at time.Time) string {
	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		tc3Algorithm, t.SecretID, t.Scope(at), tc3SignedHeaders, t.Signature(payload, at))
}

// Apply sets the Authorization header and its sibling X-TC-* headers.
func (t TC3) Apply(h http.Header, payload []byte, at time.Time) {
	h.Set("Authorization", t.Authorization(payload, at))
	h.Set("Content-Type", tc3ContentType)
	h.Set("Host", t.Host)
	h.Set("X-TC-Action", t.Action)
	h.Set("X-TC-Timestamp", strconv.FormatInt(at.Unix(), 10))
	h.Set("X-TC-Version", t.Version)
	h.Set("X-TC-Region", t.Region)
}

func sha256hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(msg))
	return m.Sum(nil)
}
