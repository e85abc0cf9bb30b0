// cmd/worker/main.go
package main

import (
	"context"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/hanamura/linebridge-backend/internal/config"
	"github.com/hanamura/linebridge-backend/internal/db"
	"github.com/hanamura/linebridge-backend/internal/line"
	"github.com/hanamura/linebridge-backend/internal/queue"
	"github.com/hanamura/linebridge-backend/internal/repository"
	"github.com/hanamura/linebridge-backend/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	conn, err := db.Open(cfg.DSN())
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer conn.Close()

	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal("amqp connection failed", zap.Error(err))
	}
	defer amqpConn.Close()

	messageRepo := &repository.MessageRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	pushClient := line.NewPushClient(cfg.LineChannelAccessToken)

	dispatcher := service.NewDispatcher(messageRepo, recipientRepo, pushClient, logger)

	logger.Info("worker running, waiting for dispatch jobs")
	err = queue.Consume(amqpConn, func(job queue.DispatchJob) error {
		_, err := dispatcher.Deliver(context.Background(), job.MessageID)
		return err
	}, logger)
	if err != nil {
		logger.Fatal("consumer stopped", zap.Error(err))
	}
}
