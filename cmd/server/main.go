package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orchestrator-backend/pkg/config"
	"orchestrator-backend/pkg/logger"
	"orchestrator-backend/pkg/server"
	"orchestrator-backend/pkg/server/middleware"
	"orchestrator-backend/pkg/utils/secret"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const defaultConfigPath = "configs/server.yaml"

func main() {
	// 命令行参数
	configPath := flag.String("config", defaultConfigPath, "配置文件路径")
	version := flag.Bool("version", false, "显示版本信息")
	hashKey := flag.String("hash-key", "", "输出 API 密钥的 argon2id 哈希后退出")
	issueToken := flag.String("issue-token", "", "用配置中的 jwt_secret 为指定名称签发令牌后退出")
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("orchestrator version %s (built at %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	if *hashKey != "" {
		hash, err := secret.Hash(*hashKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		os.Exit(0)
	}

	// 获取工作区根目录
	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting current directory: %v\n", err)
		os.Exit(1)
	}

	// 加载配置，默认路径下没有配置文件时使用默认值
	cfg, err := config.LoadServerConfig(*configPath, workspaceRoot)
	if err != nil && config.IsNotExist(err) && *configPath == defaultConfigPath {
		cfg, err = config.DefaultServerConfigAt(workspaceRoot)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		if !cfg.Auth.Enabled {
			fmt.Fprintln(os.Stderr, "auth is not enabled in config")
			os.Exit(1)
		}
		l := logger.NewLogger(false)
		auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, l.GetLogger("auth"))
		token, expiresAt, err := auth.GenerateToken(*issueToken, cfg.Auth.TokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error issuing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n# expires at %s\n", token, expiresAt.UTC().Format("2006-01-02T15:04:05Z"))
		os.Exit(0)
	}

	// 初始化日志
	logs := logger.New(logger.Options{
		Debug:      cfg.Log.Debug,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logs.Close()
	log := logs.GetLogger("orchestrator")

	// 创建服务器
	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create server")
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start server")
		os.Exit(1)
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("Orchestrator started successfully")

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	// 优雅关闭
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping server")
	}
}
