package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized   = errors.New("key mismatch")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotRegistered  = errors.New("identity not registered")
	ErrKeyGeneration  = errors.New("key generation failed")
	ErrPoolExhausted  = errors.New("address pool exhausted")
	ErrMasterConflict = errors.New("another master is already registered")
)

// Error codes carried in HTTP error bodies so clients can recover the kind.
const (
	CodeUnauthorized   = "unauthorized"
	CodeInvalidRequest = "invalid_request"
	CodeNotRegistered  = "not_registered"
	CodeKeyGeneration  = "key_generation_failed"
	CodePoolExhausted  = "pool_exhausted"
	CodeMasterConflict = "master_conflict"
	CodeInternal       = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, CodeUnauthorized},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrNotRegistered, CodeNotRegistered},
	{ErrKeyGeneration, CodeKeyGeneration},
	{ErrPoolExhausted, CodePoolExhausted},
	{ErrMasterConflict, CodeMasterConflict},
}

// Code classifies err into one of the Code* constants.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode rebuilds an error of the kind named by code, keeping msg as detail.
func FromCode(code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			if msg == "" || msg == c.err.Error() {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, msg)
		}
	}
	return errors.New(msg)
}
