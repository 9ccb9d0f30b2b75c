package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, PoseBackendStub, cfg.Pose.Backend)
	assert.Equal(t, 0.20, cfg.Pipeline.QualityFailureThreshold)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, time.Second, cfg.LLM.BaseDelay())
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.ProcessingTimeout())
}

func TestLoad_PrefersLocalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "llm:\n  model: gpt-4\n")
	writeConfig(t, dir, "config.local.yaml", "llm:\n  model: gpt-4o-mini\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_UnknownPoseBackend(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "pose:\n  backend: mediapipe-maybe\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pose backend")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Queue:    QueueConfig{MaxWorkers: 1},
			LLM:      LLMConfig{MaxAttempts: 3},
			Pose:     PoseConfig{Backend: PoseBackendStub},
			Pipeline: PipelineConfig{QualityFailureThreshold: 0.2},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid stub", mutate: func(c *Config) {}},
		{name: "remote without endpoint", mutate: func(c *Config) { c.Pose.Backend = PoseBackendRemote }, wantErr: true},
		{name: "remote with endpoint", mutate: func(c *Config) {
			c.Pose.Backend = PoseBackendRemote
			c.Pose.Endpoint = "http://pose:9000"
		}},
		{name: "threshold zero", mutate: func(c *Config) { c.Pipeline.QualityFailureThreshold = 0 }, wantErr: true},
		{name: "threshold one", mutate: func(c *Config) { c.Pipeline.QualityFailureThreshold = 1 }, wantErr: true},
		{name: "no attempts", mutate: func(c *Config) { c.LLM.MaxAttempts = 0 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Queue.MaxWorkers = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOSSConfig_Enabled(t *testing.T) {
	assert.False(t, OSSConfig{}.Enabled())
	assert.False(t, OSSConfig{Endpoint: "oss-cn-hangzhou.aliyuncs.com"}.Enabled())
	assert.True(t, OSSConfig{Endpoint: "oss-cn-hangzhou.aliyuncs.com", AccessKeyID: "ak"}.Enabled())
}
