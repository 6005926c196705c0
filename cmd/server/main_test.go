package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/scrub-gateway/internal/config"
	"github.com/ignite/scrub-gateway/internal/metrics"
)

func TestBuildRecordsMemorySeedsAudiences(t *testing.T) {
	cfg := &config.Config{}
	cfg.Records.Backend = config.RecordsMemory
	cfg.Records.AllowedAudiences = []string{"web-client", "cli-client"}

	rs, db, err := buildRecords(context.Background(), cfg, metrics.New("test"))
	require.NoError(t, err)
	assert.Nil(t, db)

	ids, err := rs.AllowedAudiences(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web-client", "cli-client"}, ids)
}

func TestBuildBlobsAndPublisherMemory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Blobs.Backend = config.BlobsMemory
	cfg.Blobs.Bucket = "scrub-bucket"
	cfg.Queue.Backend = config.QueueMemory

	bs, err := buildBlobs(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "scrub-bucket", bs.Bucket())

	pub, err := buildPublisher(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}
