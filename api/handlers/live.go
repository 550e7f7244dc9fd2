package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/api"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/collector"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 实时 trace 推送
// =============================================================================

const (
	// liveBufferSize 每个订阅者的待发送事件上限，满了丢弃最新事件
	liveBufferSize   = 64
	liveWriteTimeout = 5 * time.Second
)

// LiveObserver 订阅者数量观察者，metrics.Collector 实现了该接口
type LiveObserver interface {
	LiveSubscriberConnected()
	LiveSubscriberDisconnected()
}

// LiveHub 将 collector 的摄入事件广播给 websocket 订阅者。
// 实现 collector.Publisher。
type LiveHub struct {
	mu       sync.RWMutex
	subs     map[chan collector.Event]struct{}
	origins  []string
	observer LiveObserver
	logger   *zap.Logger
	now      func() time.Time
}

// NewLiveHub 创建推送中心，origins 为允许的跨域来源模式
func NewLiveHub(origins []string, observer LiveObserver, logger *zap.Logger) *LiveHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHub{
		subs:     make(map[chan collector.Event]struct{}),
		origins:  origins,
		observer: observer,
		logger:   logger.With(zap.String("component", "live_hub")),
		now:      time.Now,
	}
}

// Publish 非阻塞地投递事件，慢订阅者会丢失事件
func (h *LiveHub) Publish(ev collector.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("live subscriber lagging, event dropped", zap.String("trace_id", ev.TraceID))
		}
	}
}

// Subscribers 当前订阅者数量
func (h *LiveHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *LiveHub) subscribe() chan collector.Event {
	ch := make(chan collector.Event, liveBufferSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.LiveSubscriberConnected()
	}
	return ch
}

func (h *LiveHub) unsubscribe(ch chan collector.Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.LiveSubscriberDisconnected()
	}
}

// HandleLive 升级为 websocket 并持续推送摄入事件
// @Summary 实时 trace 推送
// @Tags traces
// @Router /api/live [get]
func (h *LiveHub) HandleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// 客户端不发送数据，CloseRead 负责处理控制帧并在断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	if err := h.write(ctx, conn, "hello", map[string]int{"subscribers": h.Subscribers()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			if err := h.write(ctx, conn, ev.Type, ev); err != nil {
				h.logger.Debug("live write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *LiveHub) write(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(api.LiveEnvelope{Type: typ, Data: data, Timestamp: h.now().UTC()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
