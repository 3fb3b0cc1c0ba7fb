package gateway

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fata/pkg/processes"
	"github.com/go-go-golems/fata/pkg/runtime"
)

// TurnDriver drives one conversation turn to an assistant response.
type TurnDriver interface {
	RunTurn(ctx context.Context, threadID string, text string) (string, error)
}

// Thread is a conversation thread identifier together with its history,
// most recent message first.
type Thread struct {
	ThreadID string            `json:"thread_id"`
	Messages []runtime.Message `json:"messages"`
}

// Service is the conversation boundary: thread creation, chat turns and
// process listing. It holds no state of its own beyond its collaborators.
type Service struct {
	rt       runtime.AgentRuntime
	driver   TurnDriver
	registry *processes.Registry
}

func NewService(rt runtime.AgentRuntime, driver TurnDriver, registry *processes.Registry) *Service {
	return &Service{
		rt:       rt,
		driver:   driver,
		registry: registry,
	}
}

// CreateThread starts a new conversation thread and returns it with its
// (initially empty) history.
func (s *Service) CreateThread(ctx context.Context) (Thread, error) {
	threadID, err := s.rt.CreateThread(ctx)
	if err != nil {
		return Thread{}, err
	}
	log.Info().Str("thread_id", threadID).Msg("created thread")

	messages, err := s.rt.ListMessages(ctx, threadID)
	if err != nil {
		return Thread{}, err
	}
	return Thread{ThreadID: threadID, Messages: messages}, nil
}

// GetThread returns the history of an existing thread. A missing thread
// yields runtime.ErrThreadNotFound.
func (s *Service) GetThread(ctx context.Context, threadID string) (Thread, error) {
	if err := s.rt.GetThread(ctx, threadID); err != nil {
		return Thread{}, err
	}

	messages, err := s.rt.ListMessages(ctx, threadID)
	if err != nil {
		return Thread{}, err
	}
	return Thread{ThreadID: threadID, Messages: messages}, nil
}

// Chat runs one conversation turn and returns the assistant's response. A
// missing thread yields runtime.ErrThreadNotFound.
func (s *Service) Chat(ctx context.Context, threadID string, text string) (string, error) {
	if err := s.rt.GetThread(ctx, threadID); err != nil {
		return "", err
	}
	return s.driver.RunTurn(ctx, threadID, text)
}

// ListProcesses returns a snapshot of every known long-running process.
func (s *Service) ListProcesses() []processes.Process {
	return s.registry.List()
}
