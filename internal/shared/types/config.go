package types

import (
	"strconv"
	"time"
)

// CoreConf 描述本地 HTTP META 核心的控制接口。
type CoreConf struct {
	Protocol      string        `ini:"protocol"`
	Host          string        `ini:"host"`
	Port          int           `ini:"port"`
	Authorization string        `ini:"authorization"`
	StartDelay    time.Duration `ini:"start_delay"`   // 核心启动后等待多久开始检测
	ProxyTimeout  time.Duration `ini:"proxy_timeout"` // 每个节点预留的耗时, 用于计算核心自动退出时间
}

// ProbeConf 包含落地检测请求相关的配置
type ProbeConf struct {
	Method      string        `ini:"method"`
	Timeout     time.Duration `ini:"timeout"`
	Retries     int           `ini:"retries"`
	RetryDelay  time.Duration `ini:"retry_delay"`
	Concurrency int           `ini:"concurrency"`
	API         string        `ini:"api"`
	Internal    bool          `ini:"internal"`
	ProxyScheme string        `ini:"proxy_scheme"` // "http" 或 "socks5"

	MMDBCountryPath string `ini:"mmdb_country_path"`
	MMDBASNPath     string `ini:"mmdb_asn_path"`
}

// OutputConf controls how results are written back onto the node list.
type OutputConf struct {
	Format             string `ini:"format"`
	Cache              bool   `ini:"cache"`
	CachePath          string `ini:"cache_path"`
	IgnoreFailedError  bool   `ini:"ignore_failed_error"`
	Geo                bool   `ini:"geo"`
	Incompatible       bool   `ini:"incompatible"`
	RemoveIncompatible bool   `ini:"remove_incompatible"`
	RemoveFailed       bool   `ini:"remove_failed"`
	MaxRiskScore       int    `ini:"max_risk_score"` // 100 表示不检测欺诈值
	FormatOnlyFlag     bool   `ini:"format_only_flag"`
}

// RiskConf 欺诈值查询
type RiskConf struct {
	Endpoint      string        `ini:"endpoint"`
	Timeout       time.Duration `ini:"timeout"`
	RatePerSecond float64       `ini:"rate_per_second"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// WebConf 包含 Web API 的配置, port 为 0 时不启用
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// Config 是 geoprobe 的统一配置结构体
type Config struct {
	CoreConf   `ini:"core"`
	ProbeConf  `ini:"probe"`
	OutputConf `ini:"output"`
	RiskConf   `ini:"risk"`
	LogConf    `ini:"log"`
	WebConf    `ini:"web"`
}

const (
	DefaultRemoteAPI   = "http://ip-api.com/json?lang=zh-CN"
	DefaultInternalAPI = "http://checkip.amazonaws.com"
	DefaultRiskAPI     = "https://scamalytics.com/ip/"

	DefaultFormat         = "{{api.country}} {{api.isp}} - {{proxy.name}}"
	DefaultInternalFormat = "{{api.countryCode}} {{api.aso}} - {{proxy.name}}"
	DefaultFlagFormat     = "{{country_emojis_dict[api.countryCode]}} - {{proxy.name}}"

	// RiskCheckDisabled 为 max_risk_score 的默认值, 此时不会查询欺诈值
	RiskCheckDisabled = 100
)

// DefaultConfig returns the configuration used when no file or key overrides a value.
func DefaultConfig() *Config {
	return &Config{
		CoreConf: CoreConf{
			Protocol:     "http",
			Host:         "127.0.0.1",
			Port:         9876,
			StartDelay:   3 * time.Second,
			ProxyTimeout: 10 * time.Second,
		},
		ProbeConf: ProbeConf{
			Method:      "get",
			Timeout:     5 * time.Second,
			Retries:     1,
			RetryDelay:  time.Second,
			Concurrency: 10,
			ProxyScheme: "http",
		},
		OutputConf: OutputConf{
			MaxRiskScore: RiskCheckDisabled,
		},
		RiskConf: RiskConf{
			Endpoint:      DefaultRiskAPI,
			Timeout:       5 * time.Second,
			RatePerSecond: 2,
		},
		LogConf: LogConf{Level: "info"},
	}
}

// EffectiveAPI 返回实际使用的落地查询 API。
func (c *Config) EffectiveAPI() string {
	if c.API != "" {
		return c.API
	}
	if c.Internal {
		return DefaultInternalAPI
	}
	return DefaultRemoteAPI
}

// EffectiveFormat picks the name template: explicit format first, then flag-only,
// then the internal-mode default, then the remote default.
func (c *Config) EffectiveFormat() string {
	switch {
	case c.Format != "":
		return c.Format
	case c.FormatOnlyFlag:
		return DefaultFlagFormat
	case c.Internal:
		return DefaultInternalFormat
	default:
		return DefaultFormat
	}
}

// CoreBaseURL 拼接 HTTP META 控制接口地址。
func (c *Config) CoreBaseURL() string {
	return c.CoreConf.Protocol + "://" + c.CoreConf.Host + ":" + strconv.Itoa(c.CoreConf.Port)
}
