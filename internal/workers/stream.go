package workers

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// consumerGroup runs n consumers of one Redis stream group. Each message is
// handled once and acked afterwards regardless of outcome.
type consumerGroup struct {
	rdb      *redis.Client
	stream   string
	group    string
	prefix   string
	n        int
	log      *logrus.Logger
	handle   func(ctx context.Context, msg redis.XMessage)
	idleWait time.Duration
}

func (g *consumerGroup) start(ctx context.Context) {
	_ = g.rdb.XGroupCreateMkStream(ctx, g.stream, g.group, "0").Err() // ignore BUSYGROUP
	if g.idleWait <= 0 {
		g.idleWait = 500 * time.Millisecond
	}

	for i := 0; i < g.n; i++ {
		consumer := g.prefix + "-" + strconv.Itoa(i+1)
		go g.run(ctx, consumer)
	}
	g.log.WithFields(logrus.Fields{
		"stream":    g.stream,
		"group":     g.group,
		"consumers": g.n,
	}).Info("stream workers started")
}

func (g *consumerGroup) run(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := g.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    g.group,
			Consumer: consumer,
			Streams:  []string{g.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			g.log.WithError(err).WithField("stream", g.stream).Warn("xreadgroup failed")
			time.Sleep(g.idleWait)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				g.handle(ctx, msg)
				_ = g.rdb.XAck(ctx, g.stream, g.group, msg.ID).Err()
			}
		}
	}
}

func field(msg redis.XMessage, k string) string {
	v, ok := msg.Values[k]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
