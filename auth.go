package main

import (
	"crypto/rand"
	"encoding/hex"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	usernameMinLen = 3
	usernameMaxLen = 30
	passwordMinLen = 6
)

func genToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(p string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.DefaultCost)
	return string(b), err
}

func comparePassword(hash, p string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
}

func validUsername(u string) bool {
	n := utf8.RuneCountInString(u)
	return n >= usernameMinLen && n <= usernameMaxLen
}
