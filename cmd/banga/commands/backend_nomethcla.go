//go:build !methcla

package commands

import (
	"errors"

	"github.com/kaoskorobase/banga/pkg/native"
)

func openMethcla() (native.Library, error) {
	return nil, errors.New("methcla backend not available: rebuild with -tags methcla")
}
