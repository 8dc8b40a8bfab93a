package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orchestrator-backend/pkg/agent"
	"orchestrator-backend/pkg/config"
	"orchestrator-backend/pkg/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "configs/agent.yaml", "配置文件路径")
	version := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("orchestrator-agent version %s (built at %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// 获取工作区根目录
	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting current directory: %v\n", err)
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.LoadAgentConfig(*configPath, workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logs := logger.NewLogger(cfg.Runtime.Debug)
	if cfg.Runtime.LogPath != "" {
		logs.SetLogOutput(cfg.Runtime.LogPath)
	}
	defer logs.Close()
	log := logs.GetLogger("agent")

	// 创建Agent实例
	a, err := agent.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create agent")
		os.Exit(1)
	}

	// 启动Agent
	if err := a.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start agent")
		os.Exit(1)
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("node_id", a.NodeID()).
		Msg("Agent started successfully")

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// 优雅关闭
	if err := a.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping agent")
		os.Exit(1)
	}
}
