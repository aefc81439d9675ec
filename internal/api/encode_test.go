package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/session"
	"github.com/MrWong99/introcoach/pkg/audio"
)

func TestEncodeUpdate_ErrorCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "capture stream lost",
			err:  fmt.Errorf("session: capture stream ended: %w", audio.ErrUnavailable),
			want: "device_unavailable",
		},
		{
			name: "microphone revoked",
			err:  fmt.Errorf("capture: %w", audio.ErrPermissionDenied),
			want: "permission_denied",
		},
		{
			name: "transcriber failure",
			err:  errors.New("deepgram: connection reset"),
			want: "transcription",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, ok := encodeUpdate(app.Update{Event: session.ErrorEvent{Err: tt.err}}).(errorMessage)
			if !ok {
				t.Fatal("ErrorEvent did not encode to an error message")
			}
			if msg.Type != "error" || msg.Code != tt.want {
				t.Errorf("message = %+v, want code %q", msg, tt.want)
			}
			if msg.Message != tt.err.Error() {
				t.Errorf("Message = %q, want %q", msg.Message, tt.err.Error())
			}
		})
	}
}
