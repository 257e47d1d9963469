package embedding

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/taskledger-ai/taskledger/internal/model"
)

func TestItemText(t *testing.T) {
	owner := "Alice"
	ctxNote := "Needed before the offsite"

	it := model.ActionItem{
		ID:          uuid.New(),
		Description: "Draft the proposal",
		Owner:       &owner,
		Context:     &ctxNote,
	}
	assert.Equal(t, "Draft the proposal\nowner: Alice\nNeeded before the offsite", ItemText(it))

	bare := model.ActionItem{ID: uuid.New(), Description: "Book the venue"}
	assert.Equal(t, "Book the venue", ItemText(bare))

	empty := ""
	bare.Owner = &empty
	assert.Equal(t, "Book the venue", ItemText(bare))
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(8)
	assert.Equal(t, 8, p.Dimensions())

	vec, err := p.Embed(t.Context(), "anything")
	assert.NoError(t, err)
	assert.Len(t, vec.Slice(), 8)

	vecs, err := p.EmbedBatch(t.Context(), []string{"a", "b"})
	assert.NoError(t, err)
	assert.Len(t, vecs, 2)
}
