package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/driftlab/driftmsg/internal/client/state"
)

func TestValidateAttachment(t *testing.T) {
	assert.NoError(t, ValidateAttachment("image/png", 1024))
	assert.NoError(t, ValidateAttachment("image/jpeg", MaxAttachmentBytes))

	// Oversized image.
	err := ValidateAttachment("image/png", 6<<20)
	assert.ErrorContains(t, err, "too large")

	// Non-image types are rejected outright.
	err = ValidateAttachment("text/plain", 10)
	assert.ErrorContains(t, err, "only image attachments")
	assert.Error(t, ValidateAttachment("application/pdf", 10))
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "image/png", DetectMIME("photo.png", nil))
	assert.Equal(t, "image/jpeg", DetectMIME("photo.jpg", nil))

	// No extension: falls back to content sniffing.
	pngHeader := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	assert.Equal(t, "image/png", DetectMIME("photo", pngHeader))
	assert.Equal(t, "text/plain; charset=utf-8", DetectMIME("notes", []byte("hello")))
}

func TestSameSenderAsPrev(t *testing.T) {
	msgs := []state.Message{
		{ID: "m1", SenderID: "a"},
		{ID: "m2", SenderID: "a"},
		{ID: "m3", SenderID: "b"},
		{ID: "m4", SenderID: "a"},
	}

	assert.False(t, sameSenderAsPrev(msgs, 0))
	assert.True(t, sameSenderAsPrev(msgs, 1))
	assert.False(t, sameSenderAsPrev(msgs, 2))
	assert.False(t, sameSenderAsPrev(msgs, 3))
	assert.False(t, sameSenderAsPrev(msgs, 99))
}

func TestTimeSince(t *testing.T) {
	assert.Equal(t, "", timeSince(time.Time{}))
	assert.Equal(t, "now", timeSince(time.Now().Add(-10*time.Second)))
	assert.Equal(t, "5m", timeSince(time.Now().Add(-5*time.Minute)))
	assert.Equal(t, "3h", timeSince(time.Now().Add(-3*time.Hour)))
	assert.Equal(t, "2d", timeSince(time.Now().Add(-49*time.Hour)))
}
