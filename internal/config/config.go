package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nfregctl/nfregctl/addone/registration"
	"github.com/nfregctl/nfregctl/pkg/logger"
	nfssh "github.com/nfregctl/nfregctl/pkg/ssh"
	"github.com/nfregctl/nfregctl/simulate"
)

// Config 应用配置结构
type Config struct {
	Log      logger.Config                    `mapstructure:"log"`
	SSH      SSHConfig                        `mapstructure:"ssh"`
	Bastions map[string]BastionConfig         `mapstructure:"bastions"`
	NFs      map[string]NFConfig              `mapstructure:"nfs"`
	NFTypes  map[string]registration.Override `mapstructure:"nf_types"`
	Stub     simulate.StubConfig              `mapstructure:"stub"`
	Database DatabaseConfig                   `mapstructure:"database"`
	Storage  StorageConfig                    `mapstructure:"storage"`
	Server   ServerConfig                     `mapstructure:"server"`
	Simulate simulate.ServerConfig            `mapstructure:"simulate"`

	path string
}

// SSHConfig SSH会话配置
type SSHConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	Term              string        `mapstructure:"term"`
	TermWidth         int           `mapstructure:"term_width"`
	TermHeight        int           `mapstructure:"term_height"`
	LineEnding        string        `mapstructure:"line_ending"`
}

// BastionConfig 跳板机配置，命令模板中 %h、%p 替换为目标主机与端口
type BastionConfig struct {
	ProxyCommand string `mapstructure:"proxycommand"`
}

// NFConfig 单个 NF 的连接配置
type NFConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	KeyFile  string `mapstructure:"key_file"`
	Password string `mapstructure:"password"`
	Bastion  string `mapstructure:"bastion"`
	Type     string `mapstructure:"type"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置，Path 为空时不记录运行历史
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 运行报告存储配置
type StorageConfig struct {
	Report ReportConfig `mapstructure:"report"`
	Minio  MinioConfig  `mapstructure:"minio"`
}

// ReportConfig 报告输出配置
type ReportConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend local | minio
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

var globalConfig *Config

// Load 加载配置文件；未指定扩展名时按 JSON 解析
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("json")
		}
	} else {
		v.SetConfigName("nfregctl")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.nfregctl")
	}

	// 设置环境变量前缀
	v.SetEnvPrefix("NFREG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.path = v.ConfigFileUsed()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)

	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.command_timeout", 10*time.Second)
	v.SetDefault("ssh.keep_alive_interval", 0)
	v.SetDefault("ssh.term", "vt100")
	v.SetDefault("ssh.term_width", 200)
	v.SetDefault("ssh.term_height", 48)
	v.SetDefault("ssh.line_ending", "\n")

	v.SetDefault("database.sqlite.max_idle_conns", 2)
	v.SetDefault("database.sqlite.max_open_conns", 1)

	v.SetDefault("storage.report.enabled", false)
	v.SetDefault("storage.report.backend", "local")
	v.SetDefault("storage.report.base_dir", "./data/reports")
	v.SetDefault("storage.report.prefix", "runs")
	v.SetDefault("storage.minio.bucket", "nfregctl")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)

	v.SetDefault("simulate.listen", "127.0.0.1:2222")
	v.SetDefault("simulate.password", "nova")
}

// Validate 校验 NF 配置并补齐端口；跳板机引用在连接时才解析
func (c *Config) Validate() error {
	var errs []error
	for name, nf := range c.NFs {
		if strings.TrimSpace(nf.Host) == "" {
			errs = append(errs, fmt.Errorf("nfs.%s: host is required", name))
		}
		if strings.TrimSpace(nf.Type) == "" {
			errs = append(errs, fmt.Errorf("nfs.%s: type is required", name))
		}
		if nf.Port <= 0 {
			nf.Port = 22
			c.NFs[name] = nf
		}
	}
	if b := c.Storage.Report.Backend; b != "" && b != "local" && b != "minio" {
		errs = append(errs, fmt.Errorf("storage.report.backend: unsupported %q", b))
	}
	return errors.Join(errs...)
}

// Get 最近一次加载的配置
func Get() *Config {
	return globalConfig
}

// Path 实际读取的配置文件
func (c *Config) Path() string {
	return c.path
}

// NF 按名称查找 NF，键经 viper 小写化因此大小写不敏感
func (c *Config) NF(name string) (NFConfig, bool) {
	if nf, ok := c.NFs[name]; ok {
		return nf, true
	}
	nf, ok := c.NFs[strings.ToLower(name)]
	return nf, ok
}

// NFNames 已配置的 NF 名称（排序）
func (c *Config) NFNames() []string {
	names := make([]string, 0, len(c.NFs))
	for name := range c.NFs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Target 实现 ssh.TargetStore
func (c *Config) Target(name string) (*nfssh.Target, error) {
	nf, ok := c.NF(name)
	if !ok {
		return nil, &nfssh.ConfigLookupError{Target: name}
	}
	return &nfssh.Target{
		Host:     nf.Host,
		Port:     nf.Port,
		Username: nf.Username,
		KeyFile:  nf.KeyFile,
		Password: nf.Password,
		Bastion:  nf.Bastion,
	}, nil
}

// BastionTemplates 跳板机名称到命令模板
func (c *Config) BastionTemplates() map[string]string {
	out := make(map[string]string, len(c.Bastions))
	for name, b := range c.Bastions {
		out[name] = b.ProxyCommand
	}
	return out
}

// NFType 合并插件默认值与 nf_types 覆盖项
func (c *Config) NFType(name string) (registration.Defaults, error) {
	plugin, err := registration.Get(name)
	if err != nil {
		return registration.Defaults{}, err
	}
	def := plugin.Defaults()
	// 插件未指定超时时使用 ssh.command_timeout
	if def.CommandTimeout <= 0 {
		def.CommandTimeout = c.SSH.CommandTimeout
	}
	override, ok := c.NFTypes[name]
	if !ok {
		override, ok = c.NFTypes[strings.ToLower(name)]
	}
	if !ok {
		return registration.Merge(def, nil), nil
	}
	return registration.Merge(def, &override), nil
}

// PTY 会话伪终端参数
func (c *Config) PTY() *nfssh.PTYConfig {
	return &nfssh.PTYConfig{Term: c.SSH.Term, Width: c.SSH.TermWidth, Height: c.SSH.TermHeight}
}

// GetServerAddr HTTP 监听地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
