package pool

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// reloadChannel is the redis pub/sub channel the admin dashboard
// publishes pool resize commands on.
const reloadChannel = "dbpool:reload"

// Reloader 连接池配置热更新监听器
// The admin side publishes {"action":"resize","min":N,"max":M} and the
// pool picks the new bounds up without a restart.
type Reloader struct {
	redis  *redis.Client
	pool   *Pool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReloader 创建热更新监听器
func NewReloader(rdb *redis.Client, p *Pool) *Reloader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reloader{
		redis:  rdb,
		pool:   p,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动监听
func (r *Reloader) Start() {
	go r.listen()
	log.Info().Str("channel", reloadChannel).Msg("Pool reloader started")
}

// Stop 停止监听
func (r *Reloader) Stop() {
	r.cancel()
	log.Info().Msg("Pool reloader stopped")
}

// listen 监听 Redis 消息
func (r *Reloader) listen() {
	pubsub := r.redis.Subscribe(r.ctx, reloadChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				// Channel closed, stop listening
				return
			}
			r.handleMessage(msg.Payload)
		}
	}
}

// reloadMessage Redis 消息结构
type reloadMessage struct {
	Action string `json:"action"`
	Min    int    `json:"min"`
	Max    int    `json:"max"`
}

// handleMessage 处理消息
func (r *Reloader) handleMessage(payload string) {
	var msg reloadMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Error().Err(err).Msg("Failed to parse pool reload message")
		return
	}

	switch msg.Action {
	case "resize":
		r.pool.Resize(msg.Min, msg.Max)
	case "sweep":
		evicted := r.pool.Sweep()
		log.Info().Int("evicted", evicted).Msg("Manual pool sweep triggered")
	default:
		log.Warn().Str("action", msg.Action).Msg("Unknown pool reload action")
	}
}
