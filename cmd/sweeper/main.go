// cmd/sweeper/main.go
//
// Cron adapter for the periodic jobs. The engine never schedules itself;
// this binary is one implementation of the external trigger.
package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
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

	publisher, err := queue.NewPublisher(amqpConn)
	if err != nil {
		logger.Fatal("queue publisher init failed", zap.Error(err))
	}
	defer publisher.Close()

	messageRepo := &repository.MessageRepository{DB: conn}
	campaignRepo := &repository.StepCampaignRepository{DB: conn}
	pushClient := line.NewPushClient(cfg.LineChannelAccessToken)

	sweeper := service.NewSweeper(messageRepo, func(_ context.Context, messageID string) error {
		return publisher.PublishDispatch(messageID)
	}, logger)
	advancer := service.NewStepAdvancer(campaignRepo, pushClient, logger)

	c := cron.New()
	_, err = c.AddFunc("* * * * *", func() {
		if _, err := sweeper.Sweep(context.Background(), time.Now()); err != nil {
			logger.Error("sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("schedule sweep failed", zap.Error(err))
	}
	_, err = c.AddFunc("* * * * *", func() {
		if _, err := advancer.Advance(context.Background(), time.Now()); err != nil {
			logger.Error("advance failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("schedule advance failed", zap.Error(err))
	}

	logger.Info("sweeper running, jobs scheduled every minute")
	c.Run()
}
