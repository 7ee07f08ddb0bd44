package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-client/internal/api"
	"chat-client/internal/attachment"
	"chat-client/internal/config"
	"chat-client/internal/dispatch"
	"chat-client/internal/history"
	"chat-client/internal/models"
	"chat-client/internal/socket"
	"chat-client/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize backend client and resolver
	client := api.NewHTTPClient(cfg.API)
	resolver := attachment.NewStoreResolver(client)

	// The sink consumer stands in for the state store: it just logs the
	// semantic updates the core emits.
	sink := dispatch.NewChanSink(64)
	go consumeCommands(sink)

	ctx := context.Background()

	// Rebuild history once at session start
	loader := history.NewLoader(client, client, resolver, sink, cfg.History)
	go func() {
		if err := loader.Load(ctx); err != nil {
			logger.Error("history load failed", zap.Error(err))
		}
	}()

	// Establish the live connection
	manager := socket.NewManager(cfg.Socket, client, resolver, nil)
	if err := manager.Initialize(ctx, sink); err != nil {
		logger.Fatalf("Failed to initialize connection: %v", err)
	}

	if roomID := os.Getenv("DEMO_ROOM_ID"); roomID != "" {
		manager.Join(roomID, os.Getenv("DEMO_ROOM_NAME"))
		if text := os.Getenv("DEMO_MESSAGE"); text != "" {
			manager.SendMessage(roomID, text, uuid.NewString(), roomID, models.MessageFlag("chat"), nil)
		}
	}

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down...")
	manager.Disconnect()
}

func consumeCommands(sink *dispatch.ChanSink) {
	for cmd := range sink.C {
		switch c := cmd.(type) {
		case dispatch.ReplaceChats:
			logger.Info("chat list replaced", zap.Int("chats", len(c.Chats)))
		case dispatch.AppendAssistantMessage:
			logger.Info("assistant message",
				zap.String("content", c.Message.Content),
				zap.Int("attachments", len(c.Message.Attachments)))
		case dispatch.SetMessageStatus:
			logger.Info("message status",
				zap.String("message_id", c.MessageID),
				zap.String("status", string(c.Status)))
		case dispatch.SetWaiting:
			logger.Info("waiting flag",
				zap.String("chat_id", c.ChatID), zap.Bool("waiting", c.Waiting))
		}
	}
}
