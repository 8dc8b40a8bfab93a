package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"orchestrator-backend/pkg/store"
)

// Sweeper 定期把超过 staleAfter 没有心跳的在线节点置为离线
// 默认不启用，未配置时节点保持在线直到收到离线心跳
type Sweeper struct {
	store      store.Store
	staleAfter time.Duration
	interval   time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	onStale func(nodeIDs []string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper 创建过期检查器
func NewSweeper(s store.Store, staleAfter, interval time.Duration, logger zerolog.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:      s,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger.With().Str("service", "sweeper").Logger(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetOnStale 设置节点被置为离线后的回调
func (s *Sweeper) SetOnStale(callback func(nodeIDs []string)) {
	s.onStale = callback
}

// Start 在后台启动检查循环
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info().
			Dur("stale_after", s.staleAfter).
			Dur("interval", s.interval).
			Msg("Stale node sweeper started")

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(s.ctx); err != nil {
					s.logger.Error().Err(err).Msg("Stale node sweep failed")
				}
			}
		}
	}()
}

// Stop 停止检查循环并等待退出
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Stale node sweeper stopped")
}

// Sweep 执行一次检查，返回被置为离线的节点
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	ids, err := s.store.MarkStale(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	s.logger.Info().
		Strs("node_ids", ids).
		Time("cutoff", cutoff).
		Msg("Marked stale nodes offline")

	if s.onStale != nil {
		s.onStale(ids)
	}
	return ids, nil
}
