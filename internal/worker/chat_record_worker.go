package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"patient-assistant/internal/model"
)

type RecordAppender interface {
	Append(ctx context.Context, rec model.ChatRecord) error
}

// ChatRecordWorker drains the chat record queue into the history store.
type ChatRecordWorker struct {
	conn      *amqp.Connection
	appender  RecordAppender
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChatRecordWorker(conn *amqp.Connection, appender RecordAppender, queueName string, logger *zap.Logger) *ChatRecordWorker {
	return &ChatRecordWorker{
		conn:      conn,
		appender:  appender,
		queueName: queueName,
		logger:    logger.With(zap.String("queue", queueName)),
	}
}

func (w *ChatRecordWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("delivery channel closed")
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	w.logger.Info("chat record worker started")
	return nil
}

func (w *ChatRecordWorker) handle(ctx context.Context, d amqp.Delivery) {
	var rec model.ChatRecord
	if err := json.Unmarshal(d.Body, &rec); err != nil {
		w.logger.Error("decode chat record failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := w.appender.Append(ctx, rec); err != nil {
		// One redelivery, then drop.
		w.logger.Error("persist chat record failed",
			zap.String("user_id", rec.UserID),
			zap.String("session_id", rec.SessionID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err),
		)
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	_ = d.Ack(false)
}

func (w *ChatRecordWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
