package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "widget.alpha.lead", LeadSubject("alpha"))
	assert.Equal(t, "widget.alpha.event.book_demo", EventSubject("alpha", model.EventBookDemo))
}
