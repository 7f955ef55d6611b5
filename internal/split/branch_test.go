package split

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/splitchat/internal/ai"
)

func TestBranch_ApplyUpdateIsIdempotent(t *testing.T) {
	b := newBranch(Left, "A")
	b.Append(Message{ID: "m1", Role: ai.RoleAssistant})

	require.True(t, b.ApplyUpdate("m1", "same"))
	once := b.Messages()

	require.True(t, b.ApplyUpdate("m1", "same"))
	assert.Equal(t, once, b.Messages())
	assert.Equal(t, "same", b.Messages()[0].Content)
}

func TestBranch_ApplyUpdateUnknownIDIsNoop(t *testing.T) {
	b := newBranch(Left, "A")
	b.Append(Message{ID: "m1", Role: ai.RoleUser, Content: "hi"})

	assert.False(t, b.ApplyUpdate("missing", "x"))
	assert.Equal(t, "hi", b.Messages()[0].Content)
}

func TestBranch_AppendCopies(t *testing.T) {
	b := newBranch(Left, "A")
	msg := Message{ID: "m1", Role: ai.RoleUser, Parts: []ContentPart{{Type: "text", Text: "hi"}}}
	b.Append(msg)

	msg.Parts[0].Text = "mutated"
	assert.Equal(t, "hi", b.Messages()[0].Text())

	out := b.Messages()
	out[0].Content = "changed"
	assert.Empty(t, b.Messages()[0].Content)
}

func TestBranch_ProjectReducesStructuredContent(t *testing.T) {
	b := newBranch(Right, "B")
	b.Append(Message{ID: "u", Role: ai.RoleUser, Parts: []ContentPart{
		{Type: "image_url", ImageURL: "https://example.com/cat.png"},
		{Type: "text", Text: "what is this"},
	}})
	b.Append(Message{ID: "img", Role: ai.RoleUser, Parts: []ContentPart{
		{Type: "image_url", ImageURL: "https://example.com/dog.png"},
	}})
	b.Append(Message{ID: "a", Role: ai.RoleAssistant, Content: "a cat", Model: "B-old"})
	b.Append(Message{ID: "a2", Role: ai.RoleAssistant, Content: "untagged"})

	got := b.Project()
	require.Len(t, got, 4)
	assert.Equal(t, DisplayMessage{ID: "u", Role: ai.RoleUser, Text: "what is this"}, got[0])
	assert.Equal(t, "", got[1].Text)
	assert.Equal(t, DisplayMessage{ID: "a", Role: ai.RoleAssistant, Text: "a cat", ModelLabel: "B-old"}, got[2])
	assert.Equal(t, "B", got[3].ModelLabel)
}

func TestBranch_HistoryUsesTextOnly(t *testing.T) {
	b := newBranch(Left, "A")
	b.Append(Message{ID: "u", Role: ai.RoleUser, Parts: []ContentPart{{Type: "text", Text: "describe"}}})
	assert.Equal(t, []ai.Message{{Role: ai.RoleUser, Content: "describe"}}, b.History())
}

func TestBranches_ReseedKeepsUserMessagesOnly(t *testing.T) {
	bs := NewBranches("A", "B")
	bs.left.Append(Message{ID: "old", Role: ai.RoleAssistant, Content: "stale"})

	bs.Reseed([]Message{
		{ID: "u1", Role: ai.RoleUser, Content: "q1"},
		{ID: "a1", Role: ai.RoleAssistant, Content: "r1"},
		{ID: "s", Role: ai.RoleSystem, Content: "sys"},
		{ID: "u2", Role: ai.RoleUser, Content: "q2"},
	})

	for _, side := range Sides {
		b, err := bs.Get(side)
		require.NoError(t, err)
		msgs := b.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "u1", msgs[0].ID)
		assert.Equal(t, "u2", msgs[1].ID)
	}

	// sides own separate copies
	require.True(t, bs.left.ApplyUpdate("u1", "changed"))
	assert.Equal(t, "q1", bs.right.Messages()[0].Content)
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide(" Left ")
	require.NoError(t, err)
	assert.Equal(t, Left, s)

	s, err = ParseSide("right")
	require.NoError(t, err)
	assert.Equal(t, Right, s)

	_, err = ParseSide("center")
	assert.ErrorIs(t, err, ErrUnknownSide)
}

func TestPickRightModel(t *testing.T) {
	assert.Equal(t, "b", PickRightModel([]string{"a", "b", "c"}, "a"))
	assert.Equal(t, "a", PickRightModel([]string{"a", "b"}, "c"))
	assert.Equal(t, "a", PickRightModel([]string{"a"}, "a"))
	assert.Equal(t, "x", PickRightModel(nil, "x"))
}
