//go:build !consul

package store

import (
	"github.com/sirupsen/logrus"
)

// NewConsulStore returns a memory store when the consul build tag is not enabled.
func NewConsulStore(addr, _ string) (Store, error) {
	logrus.WithField("addr", addr).Warn("consul store requested but consul build tag not enabled; using memory store")
	return NewMemoryStore(), nil
}
