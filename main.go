// main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/anzhiyu-c/anheyu-markup/cmd/server"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/medialink"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/version"
	"github.com/anzhiyu-c/anheyu-markup/pkg/config"
)

// @title           Anheyu Markup API
// @version         1.0
// @description     内容渲染服务接口文档
// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	var (
		configPath      string
		exportConfig    string
		exportProviders string
		showVersion     bool
	)
	flag.StringVarP(&configPath, "config", "c", config.DefaultPath, "配置文件路径")
	flag.StringVar(&exportConfig, "export-default-config", "", "导出默认配置文件到指定路径")
	flag.StringVar(&exportProviders, "export-providers", "", "导出内置的媒体链接提供者配置到指定路径")
	flag.BoolVarP(&showVersion, "version", "v", false, "显示版本信息")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetVersionString())
		return
	}
	if exportConfig != "" || exportProviders != "" {
		if err := export(exportConfig, []byte(config.DefaultINI)); err != nil {
			log.Fatalf("导出配置失败: %v", err)
		}
		if err := export(exportProviders, medialink.DefaultConfigYAML()); err != nil {
			log.Fatalf("导出提供者配置失败: %v", err)
		}
		return
	}

	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		log.Printf("⚠️  设置 GOMAXPROCS 失败: %v", err)
	}

	app, err := server.NewApp(configPath)
	if err != nil {
		log.Fatalf("应用初始化失败: %v", err)
	}
	defer app.Stop()
	app.PrintBanner()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Printf("应用运行失败: %v", err)
	}
}

// export 将内容写入 path，path 为空时跳过
func export(path string, data []byte) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	log.Printf("✅ 已导出到: %s", path)
	return nil
}
