package domain

import "time"

// BucketView é a visão de diagnóstico de um bucket (sem estado mutável).
type BucketView struct {
	Key    Key     `json:"key"`
	Tokens float64 `json:"tokens"`
}

// BucketSnapshot é uma amostra do store para a introspecção.
// Top traz os buckets mais cheios; Bottom os mais vazios.
type BucketSnapshot struct {
	Buckets int
	Top     []BucketView
	Bottom  []BucketView
}

// BucketInspector é a parte administrativa do store.
type BucketInspector interface {
	Len() int
	Snapshot(sample int) BucketSnapshot
	Evict(keys ...Key) int
}

// Purger executa uma varredura de buckets ociosos sob demanda.
type Purger interface {
	PurgeNow(ttl time.Duration) int
}
