package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/models"
)

func TestTranslate(t *testing.T) {
	require.NoError(t, translate(nil))
	require.ErrorIs(t, translate(mongo.ErrNoDocuments), ErrNotFound)
	require.ErrorIs(t, translate(fmt.Errorf("find: %w", mongo.ErrNoDocuments)), ErrNotFound)

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	require.ErrorIs(t, translate(dup), ErrDuplicate)

	other := errors.New("boom")
	require.Equal(t, other, translate(other))
}

func TestRegexpQuoteEscapesUserInput(t *testing.T) {
	require.Equal(t, `rose\.quartz\(`, regexpQuote("rose.quartz("))
}

func TestOutboxDocsStampOrderAndSchedule(t *testing.T) {
	orderID := primitive.NewObjectID()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)

	docs := outboxDocs(orderID, []models.OutboxEvent{
		{Type: models.EventReceiptEmail, Recipient: "luna@example.com", Status: models.OutboxFailed},
		{Type: models.EventOrderPublished, NextAttemptAt: later},
	}, now)

	require.Len(t, docs, 2)
	first := docs[0].(models.OutboxEvent)
	require.Equal(t, orderID, first.OrderID)
	require.Equal(t, models.OutboxPending, first.Status)
	require.Equal(t, now, first.NextAttemptAt)
	require.Equal(t, now, first.CreatedAt)
	require.Equal(t, later, docs[1].(models.OutboxEvent).NextAttemptAt)
}
