package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

var ErrEmptySalt = errors.New("hash salt must not be empty")

// Purpose separates the roles an identifier can play so that equal raw
// values in different roles never produce the same digest.
type Purpose string

const (
	PurposeVisitor     Purpose = "visitor"
	PurposeFingerprint Purpose = "fingerprint"
	PurposeIP          Purpose = "ip"
)

var purposes = []Purpose{PurposeVisitor, PurposeFingerprint, PurposeIP}

// Hasher turns raw client identifiers into salted, one-way hex digests.
// Each purpose gets its own HMAC key derived from the server salt with HKDF.
type Hasher struct {
	pools map[Purpose]*sync.Pool
}

func NewHasher(salt []byte) (*Hasher, error) {
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}

	h := &Hasher{pools: make(map[Purpose]*sync.Pool, len(purposes))}
	for _, p := range purposes {
		key, err := deriveKey(salt, p)
		if err != nil {
			return nil, fmt.Errorf("derive %s key: %w", p, err)
		}
		h.pools[p] = &sync.Pool{
			New: func() any { return hmac.New(sha256.New, key) },
		}
	}
	return h, nil
}

func deriveKey(salt []byte, p Purpose) ([]byte, error) {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, salt, nil, []byte("micrologs/"+string(p)))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sum returns the hex HMAC of value under the key for purpose p.
func (h *Hasher) Sum(p Purpose, value string) string {
	pool, ok := h.pools[p]
	if !ok {
		panic("hashing: unknown purpose " + string(p))
	}
	mac := pool.Get().(hash.Hash)
	defer pool.Put(mac)

	mac.Reset()
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *Hasher) HashVisitor(visitorID string) string {
	return h.Sum(PurposeVisitor, visitorID)
}

// HashFingerprint returns "" for an empty fingerprint; absence is never hashed.
func (h *Hasher) HashFingerprint(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	return h.Sum(PurposeFingerprint, fingerprint)
}

func (h *Hasher) HashIP(ip string) string {
	return h.Sum(PurposeIP, ip)
}

// ErrorFingerprint groups error reports that share project, type, message
// and source location.
func ErrorFingerprint(projectID int64, errorType, message, file string, line int) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strconv.FormatInt(projectID, 10),
		errorType,
		message,
		file,
		strconv.Itoa(line),
	}, "|")))
	return hex.EncodeToString(sum[:])
}
