package crypto

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// fingerprint.go - отпечатки доказательств нарушений
//
// Отпечаток - blake2b-256 от последовательности частей. Каждая часть
// предваряется длиной, поэтому ("ab","c") и ("a","bc") различаются.
//
// Использование:
//
//	fp := crypto.Fingerprint([]byte(key.String()), evidenceJSON)

// FingerprintSize - длина отпечатка в hex-символах
const FingerprintSize = blake2b.Size256 * 2

// Fingerprint возвращает hex-строку blake2b-256 от частей
func Fingerprint(parts ...[]byte) string {
	h, _ := blake2b.New256(nil) // без ключа ошибка невозможна

	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValidFingerprint проверяет формат отпечатка
func ValidFingerprint(fp string) bool {
	if len(fp) != FingerprintSize {
		return false
	}
	_, err := hex.DecodeString(fp)
	return err == nil
}
