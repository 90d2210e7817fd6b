package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gagliardetto/solana-go"
)

// signatureHeader carries the base58 ed25519 signature of the key a request acts for. It signs the raw
// request body, or the method and path for requests without one.
const signatureHeader = "X-Messenger-Signature"

var errUnauthorized = errors.New("unauthorized")

// decodeSigned decodes the request body into v and returns the raw body for signature checks.
func decodeSigned(w http.ResponseWriter, r *http.Request, v interface{}) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return body, nil
}

// verifySignature checks that the request was signed by key over msg.
func verifySignature(r *http.Request, key solana.PublicKey, msg []byte) error {
	v := r.Header.Get(signatureHeader)
	if v == "" {
		return fmt.Errorf("%w: missing %s header", errUnauthorized, signatureHeader)
	}
	sig, err := solana.SignatureFromBase58(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errUnauthorized, signatureHeader, err)
	}
	if !sig.Verify(key, msg) {
		return fmt.Errorf("%w: request is not signed by %s", errUnauthorized, key)
	}
	return nil
}

// pathMessage is what a body-less request signs.
func pathMessage(r *http.Request) []byte {
	return []byte(r.Method + " " + r.URL.Path)
}
