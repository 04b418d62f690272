package controllers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWSSubscriber_SendAfterClose(t *testing.T) {
	// conn is nil: a closed subscriber must not reach it
	sub := &wsSubscriber{id: "a"}
	sub.close()

	err := sub.Send(context.Background(), []byte(`{"type":"log"}`))
	assert.ErrorIs(t, err, errSubscriberClosed)
	assert.Equal(t, "a", sub.ID())
}
