package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid server config",
			config:  Config{Port: DefaultPort},
			wantErr: false,
		},
		{
			name:    "valid client get",
			config:  Config{Address: "localhost", Port: DefaultPort, File: "a.bin", Mode: ModeGet},
			wantErr: false,
		},
		{
			name:    "valid client put",
			config:  Config{Address: "localhost", Port: DefaultPort, File: "a.bin", Mode: ModePut},
			wantErr: false,
		},
		{
			name:    "bad port",
			config:  Config{Port: 0},
			wantErr: true,
			errMsg:  "port must be between",
		},
		{
			name:    "ls not implemented",
			config:  Config{Address: "localhost", Port: DefaultPort, Mode: ModeLs},
			wantErr: true,
			errMsg:  "not implemented",
		},
		{
			name:    "unknown mode",
			config:  Config{Address: "localhost", Port: DefaultPort, Mode: "delete"},
			wantErr: true,
			errMsg:  "mode must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsServer(t *testing.T) {
	assert.True(t, (&Config{Address: ""}).IsServer())
	assert.False(t, (&Config{Address: "10.0.0.1"}).IsServer())
}

func TestConfig_String(t *testing.T) {
	server := &Config{Port: DefaultPort}
	assert.Contains(t, server.String(), "server")

	client := &Config{Address: "10.0.0.1", Port: DefaultPort, Mode: ModeGet}
	assert.Contains(t, client.String(), "client(get)")
}
