package api

import "context"

type RoomAPI interface {
	RoomsByUser(ctx context.Context) ([]Room, error)
}

type MessageAPI interface {
	MessagesByRoom(ctx context.Context, roomID string) ([]Message, error)
}

type StorageAPI interface {
	PresignedDownload(ctx context.Context, fileURL string) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type IdentityAPI interface {
	UserTemp(ctx context.Context) (string, error)
}

type Client interface {
	RoomAPI
	MessageAPI
	StorageAPI
	IdentityAPI
}
