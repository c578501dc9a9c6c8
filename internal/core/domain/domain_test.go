package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCameraID(t *testing.T) {
	tests := []struct {
		in      string
		want    CameraID
		wantErr bool
	}{
		{"0", 0, false},
		{"17", 17, false},
		{"007", 7, false},
		{"", 0, true},
		{"-1", 0, true},
		{"front", 0, true},
		{"1.5", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCameraID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCameraID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) CameraID {
	t.Helper()
	id, err := ParseCameraID(s)
	require.NoError(t, err)
	return id
}

func TestSessionState(t *testing.T) {
	for _, s := range []SessionState{SessionDisconnected, SessionExhausted, SessionErrored} {
		assert.True(t, s.IsTerminal(), s.String())
	}
	for _, s := range []SessionState{SessionInit, SessionStreaming, SessionClosed} {
		assert.False(t, s.IsTerminal(), s.String())
	}
	assert.Equal(t, "unknown", SessionState(42).String())
}

func TestAccountStatus_IsActive(t *testing.T) {
	assert.True(t, StatusActive.IsActive())
	assert.False(t, StatusInactive.IsActive())
	assert.False(t, StatusSuspended.IsActive())
	assert.False(t, AccountStatus("").IsActive())
}
