package queue

import (
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryCountReadsHeaderVariants(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 0, retryCount(amqp.Table{}))
	assert.Equal(t, 2, retryCount(amqp.Table{retryCountHdr: int32(2)}))
	assert.Equal(t, 2, retryCount(amqp.Table{retryCountHdr: int64(2)}))
	assert.Equal(t, 2, retryCount(amqp.Table{retryCountHdr: 2}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryCountHdr: "2"}))
}

func TestRetryPublishingRoundTripsCount(t *testing.T) {
	// What one consumer writes, the next consumer must read back, or the
	// retry cap never triggers and a poison job requeues forever.
	body := []byte(`{"message_id":"msg-1"}`)

	pub := retryPublishing(body, 1)
	assert.Equal(t, body, pub.Body)
	assert.Equal(t, uint8(amqp.Persistent), pub.DeliveryMode)
	require.Equal(t, 1, retryCount(pub.Headers))

	// Walk a job through its full retry budget.
	retries := retryCount(amqp.Table{})
	for retries < maxJobRetries {
		pub = retryPublishing(body, retries+1)
		retries = retryCount(pub.Headers)
	}
	assert.Equal(t, maxJobRetries, retries)
}
