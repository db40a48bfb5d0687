package repository

import (
	"context"

	"github.com/code-sleuth/ike-rag/internal/manager/models"
	"github.com/code-sleuth/ike-rag/internal/manager/vectorstore"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
)

type ChatRepository struct {
	store  vectorstore.Store
	logger zerolog.Logger
}

func NewChatRepository(store vectorstore.Store) *ChatRepository {
	return &ChatRepository{
		store:  store,
		logger: util.NewLogger(zerolog.ErrorLevel),
	}
}

// WithLogger replaces the repository logger.
func (r *ChatRepository) WithLogger(logger zerolog.Logger) *ChatRepository {
	r.logger = logger
	return r
}

func (r *ChatRepository) Create(ctx context.Context, chat *models.ChatInteraction) error {
	rec, err := vectorstore.NewRecord(chat.ChatID, chat, nil, chat.AskedAt)
	if err != nil {
		return err
	}
	if err := r.store.Upsert(ctx, CollectionChatInteraction, rec); err != nil {
		r.logger.Error().Err(err).Str("chat_id", chat.ChatID).Msg("Failed to create chat interaction")
		return err
	}
	return nil
}

func (r *ChatRepository) Get(ctx context.Context, chatID string) (*models.ChatInteraction, error) {
	rec, err := r.store.Get(ctx, CollectionChatInteraction, chatID)
	if err != nil {
		return nil, notFound(err, ErrChatNotFound, chatID)
	}
	var chat models.ChatInteraction
	if err := rec.Decode(&chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListBySession returns the interactions of a session in the order asked.
func (r *ChatRepository) ListBySession(ctx context.Context, sessionID string) ([]models.ChatInteraction, error) {
	recs, err := r.store.FindByField(ctx, CollectionChatInteraction, "userSessionId", sessionID)
	if err != nil {
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to list chat interactions")
		return nil, err
	}
	return decodeAll[models.ChatInteraction](recs)
}

// List returns every interaction in the order asked.
func (r *ChatRepository) List(ctx context.Context) ([]models.ChatInteraction, error) {
	recs, err := r.store.List(ctx, CollectionChatInteraction)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list chat interactions")
		return nil, err
	}
	return decodeAll[models.ChatInteraction](recs)
}
