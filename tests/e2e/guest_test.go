package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/fincopilot/internal/guest"
	"github.com/blueberrycongee/fincopilot/tests/testutil"
)

func TestGuest_LimitAndLinkFlow(t *testing.T) {
	ctx := context.Background()
	session := newSession()

	for i := 0; i < guest.DefaultMaxQuestions; i++ {
		res := ask(t, session, fmt.Sprintf("Guest question number %d about index funds", i))
		require.Equal(t, http.StatusOK, res.StatusCode, "question %d", i)
	}

	blocked := ask(t, session, "One more question about index funds")
	assert.Equal(t, http.StatusForbidden, blocked.StatusCode)
	assert.Equal(t, "LIMIT_REACHED", blocked.Error)
	assert.NotEmpty(t, blocked.Message)

	msgs, _, err := testClient.History(ctx, session, "")
	require.NoError(t, err)
	require.Len(t, msgs, 2*guest.DefaultMaxQuestions)
	assert.Equal(t, "human", msgs[0].Type)
	assert.Equal(t, "ai", msgs[1].Type)

	userID := uuid.NewString()
	link, status, err := testClient.LinkHistory(ctx, session, userID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, link.Success)
	assert.Equal(t, "History linked successfully", link.Message)
	assert.Equal(t, int64(2*guest.DefaultMaxQuestions), link.Linked)

	t.Run("should only return the user's messages when filtered", func(t *testing.T) {
		owned, _, err := testClient.History(ctx, session, userID)
		require.NoError(t, err)
		assert.Len(t, owned, 2*guest.DefaultMaxQuestions)

		other, _, err := testClient.History(ctx, session, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("should not relink claimed messages", func(t *testing.T) {
		again, _, err := testClient.LinkHistory(ctx, session, uuid.NewString())
		require.NoError(t, err)
		assert.True(t, again.Success)
		assert.Zero(t, again.Linked)
	})

	t.Run("should let the signed-in user keep asking", func(t *testing.T) {
		res, err := testClient.Chat(ctx, testutil.ChatRequest{
			Message:   "Now that I am signed in, what is an ETF?",
			SessionID: session,
			UserID:    userID,
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
	})
}

func TestLinkHistory_Validation(t *testing.T) {
	ctx := context.Background()

	_, status, err := testClient.LinkHistory(ctx, "", uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	res, status, err := testClient.LinkHistory(ctx, newSession(), "not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "User ID must be a valid UUID.", res.Error)
}

func TestHistory_UnknownSessionIsEmptyArray(t *testing.T) {
	resp, err := testClient.Get(context.Background(), "/api/history/"+newSession())
	require.NoError(t, err)
	defer resp.Body.Close()
	testutil.RequireStatusOK(t, resp)

	msgs, _, err := testClient.History(context.Background(), newSession(), "")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
