// cmd/server/main.go
package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/hanamura/linebridge-backend/internal/ai"
	"github.com/hanamura/linebridge-backend/internal/config"
	"github.com/hanamura/linebridge-backend/internal/db"
	"github.com/hanamura/linebridge-backend/internal/handler"
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
	recipientRepo := &repository.RecipientRepository{DB: conn}
	friendRepo := &repository.FriendRepository{DB: conn}
	campaignRepo := &repository.StepCampaignRepository{DB: conn}
	conversationRepo := &repository.ConversationRepository{DB: conn}

	pushClient := line.NewPushClient(cfg.LineChannelAccessToken)
	generator := ai.NewClient(cfg.OpenAIAPIKey)

	dispatcher := service.NewDispatcher(messageRepo, recipientRepo, pushClient, logger)
	sweeper := service.NewSweeper(messageRepo, func(_ context.Context, messageID string) error {
		return publisher.PublishDispatch(messageID)
	}, logger)
	advancer := service.NewStepAdvancer(campaignRepo, pushClient, logger)

	autoReply := service.NewAutoReplyService(
		conversationRepo, friendRepo, generator, pushClient, logger,
		ai.Settings{},
		ai.Config{
			Model:       cfg.OpenAIModel,
			Temperature: cfg.OpenAITemperature,
			Timeout:     cfg.OpenAITimeout,
		},
		ai.ValidationConfig{},
	)

	webhookHandler := handler.NewWebhookHandler(
		cfg.LineChannelSecret,
		"default", // single-channel deployment; multi-channel routing resolves this per webhook destination
		friendRepo, autoReply, logger,
	)
	engineHandler := &handler.EngineHandler{
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
		Advancer:   advancer,
		Logger:     logger,
	}

	r := chi.NewRouter()
	r.Post("/api/line/webhook", webhookHandler.Handle)
	r.Post("/internal/messages/{id}/dispatch", engineHandler.Dispatch)
	r.Post("/internal/sweep", engineHandler.Sweep)
	r.Post("/internal/advance", engineHandler.Advance)

	logger.Info("server running", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
