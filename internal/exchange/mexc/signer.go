package mexc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// signer implements restclient.Signer for MEXC's query-parameter HMAC-
// SHA256 scheme (spec §6): the API key travels in the X-MEXC-APIKEY
// header, and `signature` is appended to the query string as
// HMAC-SHA256(secret, canonical_query_string).
type signer struct {
	apiKey    string
	apiSecret []byte
}

func newSigner(apiKey, apiSecret string) *signer {
	return &signer{apiKey: apiKey, apiSecret: []byte(apiSecret)}
}

func (s *signer) Sign(req *http.Request, body []byte) error {
	q := req.URL.Query()
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", "5000")

	canonical := q.Encode()
	mac := hmac.New(sha256.New, s.apiSecret)
	mac.Write([]byte(canonical))
	q.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	req.URL.RawQuery = q.Encode()
	req.Header.Set("X-MEXC-APIKEY", s.apiKey)
	return nil
}
