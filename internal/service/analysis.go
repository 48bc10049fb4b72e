package service

import (
	"context"
	"errors"

	"logsight-backend/internal/dto"
	"logsight-backend/internal/router"
	"logsight-backend/internal/session"
	"logsight-backend/internal/store"

	"github.com/rs/zerolog/log"
)

var ErrNoActiveSession = errors.New("no log session loaded")

// AnalysisService answers natural-language questions about loaded logs. Each
// call runs one routed turn; passing the same thread id continues a
// conversation.
type AnalysisService interface {
	Analyze(ctx context.Context, req dto.AnalyzeRequest) (*dto.AnalyzeResponse, error)
}

type analysisService struct {
	router        router.Router
	conversations store.ConversationStore
	sessions      *session.Manager
}

func NewAnalysisService(r router.Router, conversations store.ConversationStore, sessions *session.Manager) AnalysisService {
	return &analysisService{
		router:        r,
		conversations: conversations,
		sessions:      sessions,
	}
}

func (s *analysisService) Analyze(ctx context.Context, req dto.AnalyzeRequest) (*dto.AnalyzeResponse, error) {
	sessionID := s.sessions.Current()
	if sessionID == "" {
		return nil, ErrNoActiveSession
	}

	var threadID string
	if req.ThreadId != nil && *req.ThreadId != "" {
		threadID = *req.ThreadId
	} else {
		newID, err := s.conversations.CreateThread(ctx)
		if err != nil {
			return nil, err
		}
		threadID = newID
		log.Debug().Str("thread_id", threadID).Msg("Created new analysis thread")
	}

	answer, err := s.router.RunTurn(ctx, threadID, sessionID, req.Query)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("Analysis turn failed")
		msg := err.Error()
		return &dto.AnalyzeResponse{
			ThreadId:     threadID,
			Success:      false,
			ErrorMessage: &msg,
		}, nil
	}

	return &dto.AnalyzeResponse{
		ThreadId: threadID,
		Answer:   answer,
		Success:  true,
	}, nil
}
