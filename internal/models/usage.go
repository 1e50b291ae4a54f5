package models

import "time"

// APIUsage is stored in Mongo (collection api_usage).
type APIUsage struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	Endpoint  string    `bson:"endpoint" json:"endpoint"`
	Method    string    `bson:"method" json:"method"`
	Status    int       `bson:"status" json:"status"`
	Tokens    int       `bson:"tokens" json:"tokens"`
	LatencyMS int64     `bson:"latency_ms" json:"latency_ms"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type EndpointUsage struct {
	Endpoint     string  `bson:"_id" json:"endpoint"`
	Requests     int64   `bson:"requests" json:"requests"`
	Tokens       int64   `bson:"tokens" json:"tokens"`
	AvgLatencyMS float64 `bson:"avg_latency_ms" json:"avg_latency_ms"`
}
