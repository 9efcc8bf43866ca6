/*
 * @Description: Redis 连接初始化
 * @Author: 安知鱼
 * @Date: 2025-11-11 09:57:00
 * @LastEditTime: 2025-11-12 11:21:33
 * @LastEditors: 安知鱼
 */
package database

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anzhiyu-c/anheyu-markup/pkg/config"
)

// pingTimeout 启动时检查连接的超时
const pingTimeout = 3 * time.Second

// NewRedisClient 按配置创建 Redis 客户端。
// 未配置地址或连接失败时返回 nil，由上层降级到内存缓存。
func NewRedisClient(ctx context.Context, cfg *config.Config) *redis.Client {
	addr := cfg.GetString(config.KeyRedisAddr)
	if addr == "" {
		log.Println("⚠️  Redis 地址未配置，将使用内存缓存")
		return nil
	}
	db := cfg.GetInt(config.KeyRedisDB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.GetString(config.KeyRedisPassword),
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("⚠️  连接 Redis (%s, DB %d) 失败: %v，将使用内存缓存", addr, db, err)
		rdb.Close()
		return nil
	}

	log.Printf("✅ 成功连接到 Redis (%s, DB %d)", addr, db)
	return rdb
}
