package redis

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	admission "github.com/Fischlvor/go-admission"
	libredis "github.com/go-redis/redis"
)

// DefaultHealthInterval 默认的后台探活周期
const DefaultHealthInterval = 15 * time.Second

// Store 共享窗口计数存储（Redis实现）
// 对连接失败/超时返回可识别的admission.ErrStoreUnavailable，并缓存连接健康状态，
// Available()只读缓存标志，不做网络往返
type Store struct {
	client  *libredis.Client
	prefix  string
	healthy atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore 创建Redis存储并启动后台探活
func NewStore(client *libredis.Client, prefix string) *Store {
	s := &Store{
		client: client,
		prefix: prefix,
		stop:   make(chan struct{}),
	}
	// 初始状态以一次ping为准
	s.healthy.Store(client.Ping().Err() == nil)
	go s.healthLoop(DefaultHealthInterval)
	return s
}

// NewStoreFromConfig 从连接配置创建Redis存储
func NewStoreFromConfig(cfg *admission.RedisConfig) (*Store, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("无效的redis超时: %w", err)
	}

	client := libredis.NewClient(&libredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		// 有界超时：共享存储变慢只应拖慢请求路径，不能挂住它
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	return NewStore(client, cfg.Prefix), nil
}

// key 添加前缀
func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Incr 在当前窗口内递增并返回计数与窗口剩余时间
func (s *Store) Incr(key string, window time.Duration) (int64, time.Duration, error) {
	k := s.key(key)

	count, err := s.client.Incr(k).Result()
	if err != nil {
		return 0, 0, s.fail(err)
	}

	// 窗口内第一次请求，设置过期时间
	if count == 1 {
		if err := s.client.Expire(k, window).Err(); err != nil {
			return 0, 0, s.fail(err)
		}
	}

	ttl, err := s.client.TTL(k).Result()
	if err != nil {
		return 0, 0, s.fail(err)
	}
	if ttl < 0 {
		ttl = window
	}

	s.healthy.Store(true)
	return count, ttl, nil
}

// Peek 只读获取当前窗口计数
func (s *Store) Peek(key string, _ time.Duration) (int64, error) {
	val, err := s.client.Get(s.key(key)).Int64()
	if err == libredis.Nil {
		s.healthy.Store(true)
		return 0, nil
	}
	if err != nil {
		return 0, s.fail(err)
	}

	s.healthy.Store(true)
	return val, nil
}

// Available 共享存储当前是否可达
func (s *Store) Available() bool {
	return s.healthy.Load()
}

// Stop 停止后台探活
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// fail 标记连接异常并包装为可识别的不可用错误
func (s *Store) fail(err error) error {
	s.healthy.Store(false)
	return fmt.Errorf("%w: %v", admission.ErrStoreUnavailable, err)
}

// healthLoop 后台探活，不可用期间为降级恢复提供出口
func (s *Store) healthLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.healthy.Store(s.client.Ping().Err() == nil)
		}
	}
}
