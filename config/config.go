package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Pose     PoseConfig     `mapstructure:"pose"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Mode             string `mapstructure:"mode"`
	WebsocketBaseURL string `mapstructure:"websocket_base_url"` // 推送给前端的进度订阅地址前缀
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

// Enabled OSS 是否已配置
func (c OSSConfig) Enabled() bool {
	return c.Endpoint != "" && c.AccessKeyID != ""
}

type QueueConfig struct {
	AnalysisQueue  string `mapstructure:"analysis_queue"`
	MaxWorkers     int    `mapstructure:"max_workers"`
	LockTTLSeconds int    `mapstructure:"lock_ttl_seconds"` // 单个分析的处理锁有效期
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type LLMConfig struct {
	Provider       string  `mapstructure:"provider"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	BaseDelayMS    int     `mapstructure:"base_delay_ms"`
}

// BaseDelay 指数退避的基础间隔
func (c LLMConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

const (
	PoseBackendStub   = "stub"
	PoseBackendRemote = "remote"
)

type PoseConfig struct {
	Backend           string  `mapstructure:"backend"` // stub 或 remote，启动时确定
	Endpoint          string  `mapstructure:"endpoint"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	FPS               float64 `mapstructure:"fps"`
	ReportEveryFrames int     `mapstructure:"report_every_frames"`
}

type PipelineConfig struct {
	QualityFailureThreshold  float64 `mapstructure:"quality_failure_threshold"`
	ProcessingTimeoutMinutes int     `mapstructure:"processing_timeout_minutes"`
	PoseDataDir              string  `mapstructure:"pose_data_dir"`
	PoseDataRetentionHours   int     `mapstructure:"pose_data_retention_hours"`
}

// ProcessingTimeout 分析允许停留在非终态的最长时间
func (c PipelineConfig) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutMinutes) * time.Minute
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.websocket_base_url", "ws://localhost:8080")
	v.SetDefault("queue.analysis_queue", "punch_analysis_queue")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("queue.lock_ttl_seconds", 900)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.base_delay_ms", 1000)
	v.SetDefault("pose.backend", PoseBackendStub)
	v.SetDefault("pose.timeout_seconds", 300)
	v.SetDefault("pose.fps", 30.0)
	v.SetDefault("pose.report_every_frames", 30)
	v.SetDefault("pipeline.quality_failure_threshold", 0.20)
	v.SetDefault("pipeline.processing_timeout_minutes", 30)
	v.SetDefault("pipeline.pose_data_dir", "/tmp/punch_pose_data")
	v.SetDefault("pipeline.pose_data_retention_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验启动时必须确定的配置项
func (c *Config) Validate() error {
	switch c.Pose.Backend {
	case PoseBackendStub:
	case PoseBackendRemote:
		if c.Pose.Endpoint == "" {
			return fmt.Errorf("pose.endpoint is required for backend %q", PoseBackendRemote)
		}
	default:
		return fmt.Errorf("unknown pose backend %q", c.Pose.Backend)
	}

	if c.Pipeline.QualityFailureThreshold <= 0 || c.Pipeline.QualityFailureThreshold >= 1 {
		return fmt.Errorf("pipeline.quality_failure_threshold must be in (0, 1), got %v", c.Pipeline.QualityFailureThreshold)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be >= 1, got %d", c.LLM.MaxAttempts)
	}
	if c.Queue.MaxWorkers < 1 {
		return fmt.Errorf("queue.max_workers must be >= 1, got %d", c.Queue.MaxWorkers)
	}
	return nil
}
