package workers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultIndexStream = "documents:index"

// Indexer chunks, embeds and indexes one stored document.
type Indexer interface {
	ProcessIndexing(ctx context.Context, documentID string) error
}

// StatusChannel is the pub/sub channel carrying indexing progress for a document.
func StatusChannel(documentID string) string {
	return "document:" + documentID + ":status"
}

type IndexWorkerPool struct {
	Redis      *redis.Client
	Indexer    Indexer
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *IndexWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Indexer == nil {
		return errors.New("IndexWorkerPool missing dependency: Redis/Indexer must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultIndexStream
	}
	if p.Group == "" {
		p.Group = "index-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "idx"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 3
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	g := &consumerGroup{
		rdb:    p.Redis,
		stream: p.Stream,
		group:  p.Group,
		prefix: p.ConsumerPrefix,
		n:      p.NumWorkers,
		log:    p.Logger,
		handle: p.handleMsg,
	}
	g.start(ctx)
	return nil
}

func (p *IndexWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	documentID := field(msg, "document_id")
	if documentID == "" {
		return
	}
	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":    msg.ID,
		"document_id": documentID,
	})

	statusCh := StatusChannel(documentID)
	p.publish(ctx, statusCh, "processing", "")

	start := time.Now()
	if err := p.Indexer.ProcessIndexing(ctx, documentID); err != nil {
		log.WithError(err).Error("indexing failed")
		p.publish(ctx, statusCh, "failed", "indexing failed")
		return
	}
	log.WithField("took_ms", time.Since(start).Milliseconds()).Info("document indexed")
	p.publish(ctx, statusCh, "completed", "")
}

func (p *IndexWorkerPool) publish(ctx context.Context, channel, status, message string) {
	payload, _ := json.Marshal(map[string]string{
		"type":    "status",
		"status":  status,
		"message": message,
	})
	_ = p.Redis.Publish(ctx, channel, string(payload)).Err()
}
