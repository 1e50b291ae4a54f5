package workers

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/outbox"
)

// SyncWorkerPool drains the vector sync stream into the relational mirror.
// A single consumer keeps ops in publish order; more consumers trade
// ordering for throughput.
type SyncWorkerPool struct {
	Redis      *redis.Client
	Applier    outbox.Applier
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
}

func (p *SyncWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Applier == nil {
		return errors.New("SyncWorkerPool missing dependency: Redis/Applier must be set")
	}
	if p.Stream == "" {
		p.Stream = outbox.DefaultStream
	}
	if p.Group == "" {
		p.Group = "vector-sync"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "sync"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 1
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

func (p *SyncWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	log := p.Logger.WithField("redis_id", msg.ID)

	op, err := outbox.Decode(msg)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable sync op")
		return
	}
	log = log.WithFields(logrus.Fields{
		"kind":        op.Kind,
		"document_id": op.DocumentID,
		"version":     op.Version,
	})

	if err := p.Applier.Apply(ctx, op); err != nil {
		log.WithError(err).Error("sync apply failed")
		return
	}
	log.WithField("entries", len(op.Entries)).Debug("sync op applied")
}
