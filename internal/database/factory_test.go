package database

import (
	"testing"

	"canonical-go/internal/config"
)

func TestNewIndexFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantErr bool
	}{
		{
			name: "memory index",
			cfg:  config.DatabaseConfig{Type: "memory"},
		},
		{
			name: "sqlite index",
			cfg:  config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()},
		},
		{
			name:    "sqlite without data dir",
			cfg:     config.DatabaseConfig{Type: "sqlite"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cfg:     config.DatabaseConfig{Type: "postgres"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewIndexFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewIndexFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				idx.Close()
			}
		})
	}
}
