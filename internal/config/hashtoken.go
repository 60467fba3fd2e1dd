package config

import "github.com/alexedwards/argon2id"

// HashBearerToken produces an argon2id hash suitable for storing alongside
// (never instead of) the plaintext bearer token, mirroring the teacher's
// AdminPasswordHash. The wire-level auth check always compares the plaintext
// with crypto/subtle (spec §4.J); this hash exists purely so an operator can
// verify what's on disk without keeping the plaintext exposed in tooling
// output.
func HashBearerToken(token string) (string, error) {
	return argon2id.CreateHash(token, argon2id.DefaultParams)
}

// VerifyBearerTokenHash reports whether token matches the given argon2id hash.
func VerifyBearerTokenHash(token, hash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(token, hash)
}
