/*
 * @Description: 媒体链接提供者配置的加载与校验
 * @Author: 安知鱼
 * @Date: 2025-11-13 14:59:00
 * @LastEditTime: 2025-11-16 17:07:31
 * @LastEditors: 安知鱼
 */
package medialink

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/cache"
)

// MaxConfigSize 配置文件大小上限
const MaxConfigSize = 1 << 20

var (
	ErrConfigNotFound = errors.New("medialink config file not found")
	ErrConfigParse    = errors.New("failed to parse medialink config")
)

//go:embed providers.yaml
var defaultProviders []byte

// Config 以提供者名称为键的配置
type Config map[string]ProviderConfig

// ProviderConfig 单个提供者的声明式配置。
// 只包含数据，提供者的行为由 Kind 在编译期选定。
type ProviderConfig struct {
	Kind     string            `yaml:"kind" json:"kind"`
	Priority int               `yaml:"priority" json:"priority"`
	Match    StringList        `yaml:"match" json:"match"`
	Fetch    map[string]string `yaml:"fetch" json:"fetch,omitempty"`
	Template map[string]string `yaml:"template" json:"template,omitempty"`
	Types    []string          `yaml:"types" json:"types,omitempty"`
}

// StringList 兼容单个字符串与字符串列表两种写法
type StringList []string

func (l *StringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var one string
	if err := unmarshal(&one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*l = many
	return nil
}

// LoadConfig 解析 YAML 配置，拒绝未知字段
func LoadConfig(data []byte) (Config, error) {
	if len(data) > MaxConfigSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrConfigParse, len(data), MaxConfigSize)
	}
	cfg := Config{}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	return cfg, nil
}

// LoadConfigFile 从文件读取配置，path 为空时返回内置默认配置
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return DefaultConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading medialink config: %w", err)
	}
	return LoadConfig(data)
}

// DefaultConfig 内置的提供者配置
func DefaultConfig() (Config, error) {
	return LoadConfig(defaultProviders)
}

// DefaultConfigYAML 返回内置配置的原始内容，用于导出
func DefaultConfigYAML() []byte {
	out := make([]byte, len(defaultProviders))
	copy(out, defaultProviders)
	return out
}

// Hash 配置内容的摘要，map 序列化时键有序，相同内容得到相同摘要
func (c Config) Hash() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return cache.Key(string(raw))
}
