package split

import (
	"context"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestResultRepo_SaveIgnoresRedelivery(t *testing.T) {
	db, err := gorm.Open(gormsqlite.Open("file:split_results?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Result{}))
	repo := NewResultRepo(db)
	ctx := context.Background()

	ok := ResultEvent{ConversationID: "conv", MessageID: "m1", Side: Left, Model: "A",
		Status: ResultFinished, Content: "Hello", Latency: 250 * time.Millisecond, FinishedAt: time.Now()}
	failed := ResultEvent{ConversationID: "conv", MessageID: "m2", Side: Right, Model: "B",
		Status: ResultFailed, Content: "Error: boom", Error: "boom", FinishedAt: time.Now()}

	require.NoError(t, repo.Save(ctx, ok))
	require.NoError(t, repo.Save(ctx, ok))
	require.NoError(t, repo.Save(ctx, failed))
	require.NoError(t, repo.Save(ctx, ResultEvent{ConversationID: "other", MessageID: "m3", Side: Left, Model: "A", Status: ResultFinished}))

	rows, err := repo.ListByConversation(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m1", rows[0].MessageID)
	assert.Equal(t, 5, rows[0].ContentLength)
	assert.Equal(t, int64(250), rows[0].LatencyMS)
	assert.Nil(t, rows[0].Error)
	require.NotNil(t, rows[1].Error)
	assert.Equal(t, "boom", *rows[1].Error)
	assert.Equal(t, "right", rows[1].Side)
}
