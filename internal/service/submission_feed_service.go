package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/learnify/assess-api/internal/dto"
	"github.com/learnify/assess-api/internal/observability"
)

const feedBufferSize = 16

// SubmissionFeedService streams submission change events to instructor
// clients so grading views refresh without polling. Events originate
// from the exam session controller (finalization) and the grading
// workflow (grading writes) and fan out across nodes via redis and NATS.
type SubmissionFeedService interface {
	SubmissionEventPublisher
	Subscribe(assignmentID uint) (<-chan dto.SubmissionEvent, func())
	Start(ctx context.Context)
}

type submissionFeedService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *feedBroker
	nodeID       string
}

type feedEnvelope struct {
	Source string              `json:"source"`
	Event  dto.SubmissionEvent `json:"event"`
	SentAt time.Time           `json:"sent_at"`
}

type feedBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.SubmissionEvent]struct{}
}

// NewSubmissionFeedService constructs the feed. Both redis and NATS are
// optional; without them events stay node-local.
func NewSubmissionFeedService(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) SubmissionFeedService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":submissions"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".submissions"
	}

	return &submissionFeedService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "submission_feed_service").Logger(),
		broker: &feedBroker{
			subscribers: make(map[uint]map[chan dto.SubmissionEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *submissionFeedService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

// PublishSubmission delivers an event to local subscribers and relays
// it to the other nodes.
func (s *submissionFeedService) PublishSubmission(ctx context.Context, event dto.SubmissionEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	s.broadcast(event)

	envelope := feedEnvelope{
		Source: s.nodeID,
		Event:  event,
		SentAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *submissionFeedService) Subscribe(assignmentID uint) (<-chan dto.SubmissionEvent, func()) {
	channel := make(chan dto.SubmissionEvent, feedBufferSize)

	s.broker.subscribe(assignmentID, channel)
	observability.FeedClientsActive().Inc()

	cleanup := func() {
		s.broker.unsubscribe(assignmentID, channel)
		observability.FeedClientsActive().Dec()
	}

	return channel, cleanup
}

func (s *submissionFeedService) broadcast(event dto.SubmissionEvent) {
	s.broker.broadcast(event.Submission.AssignmentID, event)
}

func (s *submissionFeedService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("submission feed redis subscription closed")
			return
		}
		s.handleEnvelope([]byte(msg.Payload))
	}
}

func (s *submissionFeedService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "assess-submissions", func(msg *nats.Msg) {
		s.handleEnvelope(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats submissions subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain submission feed nats subscription")
		}
	}()
}

func (s *submissionFeedService) handleEnvelope(payload []byte) {
	var envelope feedEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid submission feed payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}

	s.broadcast(envelope.Event)
}

func (b *feedBroker) subscribe(assignmentID uint, ch chan dto.SubmissionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[assignmentID]; !exists {
		b.subscribers[assignmentID] = make(map[chan dto.SubmissionEvent]struct{})
	}
	b.subscribers[assignmentID][ch] = struct{}{}
}

func (b *feedBroker) unsubscribe(assignmentID uint, ch chan dto.SubmissionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[assignmentID]; ok {
		if _, exists := subscribers[ch]; exists {
			delete(subscribers, ch)
			close(ch)
		}
		if len(subscribers) == 0 {
			delete(b.subscribers, assignmentID)
		}
	}
}

func (b *feedBroker) broadcast(assignmentID uint, event dto.SubmissionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[assignmentID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber; the event is dropped for that client only.
		}
	}
}
