// Package history rebuilds the full chat list on session start. One room
// listing fans out into per-room message fetches and per-message attachment
// resolutions; every failure below the room listing degrades locally instead
// of aborting the load.
package history

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chat-client/internal/api"
	"chat-client/internal/attachment"
	"chat-client/internal/config"
	"chat-client/internal/dispatch"
	"chat-client/internal/models"
	"chat-client/pkg/logger"
)

// fallbackTitle labels rooms the backend returned without a name.
const fallbackTitle = "Новый чат"

type Loader struct {
	rooms    api.RoomAPI
	messages api.MessageAPI
	resolver attachment.Resolver
	sink     dispatch.Sink
	cfg      config.HistoryConfig
}

func NewLoader(rooms api.RoomAPI, messages api.MessageAPI, resolver attachment.Resolver, sink dispatch.Sink, cfg config.HistoryConfig) *Loader {
	if cfg.RoomConcurrency <= 0 {
		cfg.RoomConcurrency = 8
	}
	if cfg.AttachmentConcurrency <= 0 {
		cfg.AttachmentConcurrency = 4
	}
	return &Loader{
		rooms:    rooms,
		messages: messages,
		resolver: resolver,
		sink:     sink,
		cfg:      cfg,
	}
}

// Load hydrates every room and emits one ReplaceChats command. Only the room
// listing itself is fatal; output order equals room-listing order regardless
// of fetch completion order.
func (l *Loader) Load(ctx context.Context) error {
	rooms, err := l.rooms.RoomsByUser(ctx)
	if err != nil {
		return errors.Wrap(err, "load room list")
	}
	logger.Info("rooms loaded", zap.Int("count", len(rooms)))

	chats := make([]models.Chat, len(rooms))

	g := new(errgroup.Group)
	g.SetLimit(l.cfg.RoomConcurrency)
	for i, room := range rooms {
		i, room := i, room
		g.Go(func() error {
			chat, err := l.loadRoom(ctx, room)
			if err != nil {
				// Failure isolation at room granularity: the chat comes
				// back empty, siblings are unaffected.
				logger.Warn("room degraded to empty chat",
					zap.String("room_id", room.ID), zap.Error(err))
			}
			chats[i] = chat
			return nil
		})
	}
	_ = g.Wait()

	l.sink.Dispatch(dispatch.ReplaceChats{Chats: chats})
	return nil
}

func (l *Loader) loadRoom(ctx context.Context, room api.Room) (models.Chat, error) {
	chat := models.Chat{
		ID:       room.ID,
		Title:    room.Name,
		RoomID:   room.ID,
		Messages: []models.Message{},
	}
	if chat.Title == "" {
		chat.Title = fallbackTitle
	}

	apiMsgs, err := l.messages.MessagesByRoom(ctx, room.ID)
	if err != nil {
		return chat, err
	}

	sort.SliceStable(apiMsgs, func(i, j int) bool {
		return apiMsgs[i].CreatedAt.Before(apiMsgs[j].CreatedAt)
	})

	msgs := make([]models.Message, len(apiMsgs))

	g := new(errgroup.Group)
	g.SetLimit(l.cfg.AttachmentConcurrency)
	for i, am := range apiMsgs {
		i, am := i, am
		msg := models.Message{
			ID:      am.ID,
			Content: am.Text,
			Sender:  senderFor(am.MessageType),
			Status:  models.StatusSent,
		}
		if am.FileAddress == "" {
			msgs[i] = msg
			continue
		}
		g.Go(func() error {
			att, err := l.resolver.Resolve(ctx, attachment.Ref{
				FileURL: am.FileAddress,
				Name:    am.FileName,
			})
			if err != nil {
				// Failure isolation at attachment granularity: the message
				// stays, just without its file.
				logger.Warn("attachment dropped",
					zap.String("message_id", am.ID), zap.Error(err))
			} else {
				msg.Attachments = []models.Attachment{*att}
			}
			msgs[i] = msg
			return nil
		})
	}
	_ = g.Wait()

	chat.Messages = msgs
	return chat, nil
}

func senderFor(messageType string) models.Sender {
	if messageType == "user" {
		return models.SenderUser
	}
	return models.SenderAssistant
}
