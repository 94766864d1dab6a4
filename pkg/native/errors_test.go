package native

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		code    ErrorCode
		message string
		wantErr bool
	}{
		{name: "success", code: NoError, message: "", wantErr: false},
		{name: "success ignores message", code: NoError, message: "stale", wantErr: false},
		{name: "argument error", code: ArgumentError, message: "bad block size", wantErr: true},
		{name: "unknown code", code: ErrorCode(99), message: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.code, tt.message)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var nerr *Error
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, tt.code, nerr.Code)
			assert.Equal(t, tt.message, nerr.Message)
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, NoError, CodeOf(nil))
	assert.Equal(t, MemoryError, CodeOf(fmt.Errorf("send: %w", Check(MemoryError, "queue full"))))
	assert.Equal(t, UnspecifiedError, CodeOf(fmt.Errorf("plain")))
}

func TestErrorString(t *testing.T) {
	err := Check(AudioDriverStartError, "device busy")
	assert.Equal(t, "native error 8 (audio_driver_start): device busy", err.Error())
	assert.Equal(t, "code_42", ErrorCode(42).String())
}
