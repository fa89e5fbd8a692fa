package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	id, err := p.Publish(context.Background(), "decisions", map[string]string{"url": "https://district.example/jobs"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	messages := p.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "decisions", messages[0].Topic)
}
