// Package events publishes trading events to Kafka for downstream consumers
// (notifications, analytics, the community feed). Publishing is best-effort
// and optional: a nil Producer drops everything.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cinestox/trading-engine/internal/model"
)

// Event types emitted by the trading engine.
const (
	TypeTradeExecuted = "TRADE_EXECUTED"
	TypeTradeFailed   = "TRADE_FAILED"
	TypeMarginCall    = "MARGIN_CALL"
	TypeLiquidation   = "LIQUIDATION"
)

// TradingEvent is the JSON envelope written to the topic, keyed by account
// so one account's events stay ordered within a partition.
type TradingEvent struct {
	EventType string              `json:"event_type"`
	AccountID string              `json:"account_id"`
	MovieID   string              `json:"movie_id"`
	Trade     *model.Trade        `json:"trade,omitempty"`
	Margin    *model.MarginStatus `json:"margin,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Producer handles publishing events to Kafka.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a new Kafka producer.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

// PublishTradeExecuted publishes a trade executed event.
func (p *Producer) PublishTradeExecuted(ctx context.Context, t *model.Trade) error {
	return p.publish(ctx, TradingEvent{
		EventType: TypeTradeExecuted,
		AccountID: t.AccountID,
		MovieID:   t.MovieID,
		Trade:     t,
		Timestamp: time.Now().UTC(),
	})
}

// PublishTradeFailed publishes a trade failed event.
func (p *Producer) PublishTradeFailed(ctx context.Context, t *model.Trade) error {
	return p.publish(ctx, TradingEvent{
		EventType: TypeTradeFailed,
		AccountID: t.AccountID,
		MovieID:   t.MovieID,
		Trade:     t,
		Timestamp: time.Now().UTC(),
	})
}

// PublishMarginCall publishes a margin call for an unhealthy position.
func (p *Producer) PublishMarginCall(ctx context.Context, status *model.MarginStatus) error {
	return p.publish(ctx, TradingEvent{
		EventType: TypeMarginCall,
		AccountID: status.AccountID,
		MovieID:   status.MovieID,
		Margin:    status,
		Timestamp: time.Now().UTC(),
	})
}

// PublishLiquidation publishes a system-initiated liquidation trade.
func (p *Producer) PublishLiquidation(ctx context.Context, t *model.Trade, status *model.MarginStatus) error {
	return p.publish(ctx, TradingEvent{
		EventType: TypeLiquidation,
		AccountID: t.AccountID,
		MovieID:   t.MovieID,
		Trade:     t,
		Margin:    status,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Producer) publish(ctx context.Context, event TradingEvent) error {
	if p == nil {
		return nil
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AccountID),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
