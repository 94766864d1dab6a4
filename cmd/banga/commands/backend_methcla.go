//go:build methcla

package commands

import (
	"github.com/kaoskorobase/banga/pkg/native"
	"github.com/kaoskorobase/banga/pkg/native/methcla"
)

func openMethcla() (native.Library, error) {
	return methcla.New(), nil
}
