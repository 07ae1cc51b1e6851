// 签发运维接口访问令牌的工具
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pu-ac-cn/uac-ticket/internal/config"
	"github.com/pu-ac-cn/uac-ticket/internal/middleware"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	ttl := flag.Duration("ttl", 0, "令牌有效期，默认取 ops.token_ttl")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("用法: ops-token [-config 路径] [-ttl 1h] <操作员>")
		fmt.Println("示例: ops-token -ttl 30m alice")
		os.Exit(1)
	}
	operator := flag.Arg(0)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Ops.SigningKey == "" {
		log.Fatal("未配置 ops.signing_key")
	}

	expiry := cfg.Ops.TokenTTL
	if *ttl > 0 {
		expiry = *ttl
	}

	now := time.Now()
	claims := middleware.OpsClaims{
		Scope: middleware.OpsScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Ops.Issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Ops.SigningKey))
	if err != nil {
		log.Fatalf("签发令牌失败: %v", err)
	}

	fmt.Println(token)
}
