package users

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

const (
	lowercaseLetters  = "abcdefghijklmnopqrstuvwxyz"
	uppercaseLetters  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	specialCharacters = "!@#$%^&*"

	passwordLowercaseCount = 8
)

// generatePassword returns 8 lowercase letters, one uppercase letter and one
// special character in uniformly shuffled positions.
func generatePassword(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, 0, passwordLowercaseCount+2)
	for i := 0; i < passwordLowercaseCount; i++ {
		c, err := pick(r, lowercaseLetters)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for _, set := range []string{uppercaseLetters, specialCharacters} {
		c, err := pick(r, set)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	// Fisher-Yates
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randIntn(r, i+1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func pick(r io.Reader, set string) (byte, error) {
	i, err := randIntn(r, len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randIntn(r io.Reader, n int) (int, error) {
	v, err := rand.Int(r, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read randomness: %w", err)
	}
	return int(v.Int64()), nil
}

// emailLocalPart lowercases "first.last" and strips whitespace from each name.
func emailLocalPart(firstName, lastName string) string {
	return squash(firstName) + "." + squash(lastName)
}

func squash(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

// candidateEmail renders the n-th candidate: n=0 has no numeric suffix.
func candidateEmail(local, domain string, n int) string {
	if n == 0 {
		return local + "@" + domain
	}
	return local + strconv.Itoa(n) + "@" + domain
}
