/*
 * @Description: 配置加载
 * @Author: 安知鱼
 * @Date: 2025-11-11 15:09:00
 * @LastEditTime: 2025-11-12 11:57:21
 * @LastEditors: 安知鱼
 */
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-ini/ini"
	"github.com/spf13/viper"
)

// DefaultPath 默认配置文件路径
const DefaultPath = "data/conf.ini"

const (
	KeyServerPort         = "System.Port"
	KeyServerDebug        = "System.Debug"
	KeyServerAdminToken   = "System.AdminToken"
	KeyServerAllowOrigins = "System.AllowOrigins"
	KeyServerRateLimit    = "System.RateLimit"

	KeyRedisAddr     = "Redis.Addr"
	KeyRedisPassword = "Redis.Password"
	KeyRedisDB       = "Redis.DB"

	KeyParserSiteURL       = "Parser.SiteURL"
	KeyParserLocalRoutes   = "Parser.LocalRoutes"
	KeyParserCutMarker     = "Parser.CutMarker"
	KeyParserBudget        = "Parser.Budget"
	KeyParserLinkToTitle   = "Parser.LinkToTitle"
	KeyParserLinkToSnippet = "Parser.LinkToSnippet"
	KeyParserPreviewLimit  = "Parser.PreviewLimit"
	KeyParserMaxDepth      = "Parser.MaxDepth"
	KeyParserCacheTTL      = "Parser.CacheTTL"
	KeyParserHighlight     = "Parser.HighlightStyle"
	KeyParserEmojiURL      = "Parser.EmojiURL"
	KeyParserDisabled      = "Parser.DisabledPlugins"

	KeyMedialinkConfig  = "Medialink.Config"
	KeyMedialinkRefresh = "Medialink.Refresh"

	KeyFetchTimeout      = "Fetch.Timeout"
	KeyFetchRate         = "Fetch.RatePerSecond"
	KeyFetchUserAgent    = "Fetch.UserAgent"
	KeyFetchMaxBodyBytes = "Fetch.MaxBodyBytes"
)

// 定义所有已知的配置键，环境变量只覆盖这些键
var allKeys = []string{
	KeyServerPort, KeyServerDebug, KeyServerAdminToken, KeyServerAllowOrigins, KeyServerRateLimit,
	KeyRedisAddr, KeyRedisPassword, KeyRedisDB,
	KeyParserSiteURL, KeyParserLocalRoutes, KeyParserCutMarker, KeyParserBudget,
	KeyParserLinkToTitle, KeyParserLinkToSnippet, KeyParserPreviewLimit, KeyParserMaxDepth,
	KeyParserCacheTTL, KeyParserHighlight, KeyParserEmojiURL, KeyParserDisabled,
	KeyMedialinkConfig, KeyMedialinkRefresh,
	KeyFetchTimeout, KeyFetchRate, KeyFetchUserAgent, KeyFetchMaxBodyBytes,
}

// defaults 配置文件与环境变量都未提供时的取值
var defaults = map[string]interface{}{
	KeyServerPort:          8091,
	KeyServerDebug:         false,
	KeyServerRateLimit:     120,
	KeyRedisDB:             10,
	KeyParserCutMarker:     "--cut--",
	KeyParserBudget:        100,
	KeyParserLinkToTitle:   true,
	KeyParserLinkToSnippet: true,
	KeyParserPreviewLimit:  500,
	KeyParserMaxDepth:      2,
	KeyParserCacheTTL:      "24h",
	KeyParserHighlight:     "github",
	KeyMedialinkRefresh:    "0 */10 * * * *",
	KeyFetchTimeout:        "10s",
	KeyFetchRate:           5,
	KeyFetchMaxBodyBytes:   2 << 20,
}

// DefaultINI 默认配置文件内容
const DefaultINI = `[System]
Port = 8091
Debug = false
# 管理接口的 Bearer 令牌，留空则关闭管理接口
AdminToken =
# 逗号分隔的允许跨域来源，留空允许任意来源
AllowOrigins =
# 每个 IP 每分钟允许的渲染请求数
RateLimit = 120

# Redis 配置（可选）
# 如果不配置或留空 Addr，系统将自动使用内存缓存
[Redis]
Addr =
Password =
DB = 10

[Parser]
# 站点地址，指向本站的链接由本地展开器处理
SiteURL =
# 站内内容路由，逗号分隔的正则，第一个捕获组为内容 ID
LocalRoutes = ^/posts/([\w-]+)$
CutMarker = --cut--
Budget = 100
LinkToTitle = true
LinkToSnippet = true
PreviewLimit = 500
MaxDepth = 2
CacheTTL = 24h
HighlightStyle = github
# 表情包 JSON 地址，留空则不启用表情
EmojiURL =
# 逗号分隔的禁用插件名
DisabledPlugins =

[Medialink]
# 提供者 YAML 路径，留空使用内置配置
Config =
# 定时重新加载提供者配置的 cron 表达式（含秒）
Refresh = 0 */10 * * * *

[Fetch]
Timeout = 10s
RatePerSecond = 5
UserAgent =
MaxBodyBytes = 2097152
`

type Config struct {
	vp *viper.Viper
}

// NewConfig 手动加载配置：文件中的值作为基础，ANHEYU_* 环境变量覆盖
func NewConfig(filePath string) (*Config, error) {
	if filePath == "" {
		filePath = DefaultPath
	}
	vp := viper.New()
	for k, v := range defaults {
		vp.SetDefault(k, v)
	}

	// --- 步骤 1: 使用 go-ini 从文件加载配置 ---
	iniCfg, err := ini.Load(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("提示: 未找到 %s，将创建默认配置文件。", filePath)
			if err := createDefaultConfigFile(filePath); err != nil {
				log.Printf("警告: 创建默认配置文件失败: %v，将仅依赖环境变量或内部默认值。", err)
			} else {
				log.Printf("✅ 已创建默认配置文件: %s", filePath)
				iniCfg, err = ini.Load(filePath)
				if err != nil {
					log.Printf("警告: 重新加载配置文件失败: %v", err)
				}
			}
		} else {
			return nil, fmt.Errorf("错误: 解析配置文件 '%s' 失败: %w", filePath, err)
		}
	}

	if iniCfg != nil {
		for _, section := range iniCfg.Sections() {
			for _, key := range section.Keys() {
				viperKey := fmt.Sprintf("%s.%s", section.Name(), key.Name())
				if section.Name() == ini.DefaultSection {
					viperKey = key.Name()
				}
				// 留空的键使用内置默认值
				if strings.TrimSpace(key.Value()) == "" {
					continue
				}
				vp.Set(viperKey, key.Value())
			}
		}
		log.Printf("从 %s 文件加载了配置。", filePath)
	}

	// --- 步骤 2: 手动检查并覆盖环境变量 ---
	envReplacer := strings.NewReplacer(".", "_")
	envPrefix := "ANHEYU"
	for _, key := range allKeys {
		envVarName := fmt.Sprintf("%s_%s", envPrefix, envReplacer.Replace(strings.ToUpper(key)))
		if value, found := os.LookupEnv(envVarName); found {
			vp.Set(key, value)
			log.Printf("发现环境变量: %s, 已覆盖配置 '%s'。", envVarName, key)
		}
	}

	log.Println("✅ 配置加载器初始化完成。")
	return &Config{vp: vp}, nil
}

func (c *Config) GetString(key string) string {
	return c.vp.GetString(key)
}

func (c *Config) GetInt(key string) int {
	return c.vp.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	return c.vp.GetBool(key)
}

func (c *Config) GetDuration(key string) time.Duration {
	return c.vp.GetDuration(key)
}

// GetList 读取逗号分隔的列表，忽略空项
func (c *Config) GetList(key string) []string {
	var out []string
	for _, item := range strings.Split(c.vp.GetString(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// createDefaultConfigFile 创建默认的配置文件
func createDefaultConfigFile(filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(filePath, []byte(DefaultINI), 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
