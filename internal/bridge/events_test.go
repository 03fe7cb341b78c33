package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "healthbridge-backend/pkg/errors"
)

func TestTranslateKnownEvents(t *testing.T) {
	cases := []struct {
		name string
		want EventType
	}{
		{"participantJoined", EventJoined},
		{"videoConferenceJoined", EventJoined},
		{"participantLeft", EventLeft},
		{"videoConferenceLeft", EventLeft},
		{"readyToClose", EventEnded},
		{"conferenceEnded", EventEnded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Translate(&WebhookPayload{
				Event:       tc.name,
				RoomName:    "consult-abc",
				Participant: "b2c9",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev.Type)
			assert.Equal(t, "consult-abc", ev.ChannelName)
			assert.Equal(t, "b2c9", ev.ParticipantName)
		})
	}
}

func TestTranslateUnknownEventRejected(t *testing.T) {
	_, err := Translate(&WebhookPayload{Event: "speakerStats", RoomName: "consult-abc"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestTranslateMissingRoomRejected(t *testing.T) {
	_, err := Translate(&WebhookPayload{Event: "participantJoined"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}
