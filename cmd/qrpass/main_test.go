package main

import (
	"fmt"
	"testing"

	"qr-pass/go-backend/internal/app"
	"qr-pass/go-backend/internal/crypto"
	"qr-pass/go-backend/internal/identity"
	"qr-pass/go-backend/internal/storage"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{crypto.ErrAuthenticationFailed, exitOpenFailed},
		{fmt.Errorf("%w: missing field at", crypto.ErrMalformedPayload), exitOpenFailed},
		{app.ErrThrottled, exitOpenFailed},
		{fmt.Errorf("%w: write key", identity.ErrStorage), exitStorageFailed},
		{fmt.Errorf("%w: mkdir state: not a directory", storage.ErrPersist), exitStorageFailed},
		{fmt.Errorf("%w: mkdir messages: permission denied", app.ErrStaging), exitStorageFailed},
		{identity.ErrIdentityNotFound, exitIdentityFailed},
		{crypto.ErrInvalidKey, exitInvalidInput},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Fatalf("exitCodeFor(%v): got=%d want=%d", tc.err, got, tc.want)
		}
	}
}
