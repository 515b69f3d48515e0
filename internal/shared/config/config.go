package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"geoprobe/internal/shared/types"
)

// envOverrides 是允许通过环境变量提供的配置项, 仅在 ini 中未设置时生效。
type envOverrides struct {
	MMDBCountryPath string `envconfig:"SUB_STORE_MMDB_COUNTRY_PATH"`
	MMDBASNPath     string `envconfig:"SUB_STORE_MMDB_ASN_PATH"`
	Authorization   string `envconfig:"HTTP_META_AUTHORIZATION"`
}

// Load 返回默认配置, 并用 ini 文件 (可为空路径) 与环境变量覆盖。
func Load(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if fileName != "" {
		if err := LoadIni(cfg, fileName); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadIni maps the ini file onto cfg. Keys missing from the file keep their current value.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return fmt.Errorf("failed to map %s: %w", fileName, err)
	}
	return nil
}

// ApplyEnv reads .env (if present) and fills mmdb paths and core authorization.
func ApplyEnv(cfg *types.Config) error {
	// .env 不存在时静默忽略
	_ = godotenv.Load()

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}
	if cfg.MMDBCountryPath == "" {
		cfg.MMDBCountryPath = env.MMDBCountryPath
	}
	if cfg.MMDBASNPath == "" {
		cfg.MMDBASNPath = env.MMDBASNPath
	}
	if cfg.Authorization == "" {
		cfg.Authorization = env.Authorization
	}
	return nil
}

// nodeFile 兼容 Clash 风格的 `proxies:` 列表。
type nodeFile struct {
	Proxies []types.Node `yaml:"proxies" json:"proxies"`
}

// LoadNodes 读取节点列表。支持 JSON 数组、`{"proxies": [...]}` 以及同结构的 YAML。
func LoadNodes(fileName string) ([]types.Node, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes file: %w", err)
	}
	return ParseNodes(data, isJSONFile(fileName))
}

// ParseNodes decodes a node list from raw bytes.
func ParseNodes(data []byte, asJSON bool) ([]types.Node, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []types.Node{}, nil
	}

	if asJSON {
		if strings.HasPrefix(trimmed, "[") {
			var nodes []types.Node
			if err := json.Unmarshal(data, &nodes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
			}
			return nodes, nil
		}
		var f nodeFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
		}
		return nonNil(f.Proxies), nil
	}

	if strings.HasPrefix(trimmed, "-") {
		var nodes []types.Node
		if err := yaml.Unmarshal(data, &nodes); err != nil {
			return nil, fmt.Errorf("failed to parse nodes yaml: %w", err)
		}
		return nonNil(nodes), nil
	}
	var f nodeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse nodes yaml: %w", err)
	}
	return nonNil(f.Proxies), nil
}

// SaveNodes 将节点列表写回文件, 格式由扩展名决定。
func SaveNodes(fileName string, nodes []types.Node) error {
	var (
		data []byte
		err  error
	)
	if isJSONFile(fileName) {
		data, err = json.MarshalIndent(nodes, "", "  ")
	} else {
		data, err = yaml.Marshal(nodeFile{Proxies: nodes})
	}
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}
	if dir := filepath.Dir(fileName); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(fileName, data, 0644)
}

func isJSONFile(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".json")
}

func nonNil(nodes []types.Node) []types.Node {
	if nodes == nil {
		return []types.Node{}
	}
	return nodes
}
