package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedEvent marks a bus payload that cannot be decoded or lacks a
// required field. Such events are dropped.
var ErrMalformedEvent = errors.New("malformed event")

const (
	TopicSay          = "hermes/tts/say"
	TopicSayFinished  = "hermes/tts/sayFinished"
	TopicPlayFinished = "hermes/audioServer/+/playFinished"
)

// SayRequest asks for text to be spoken on a site. Voice is an extension of
// the Hermes schema; Lang is part of it.
type SayRequest struct {
	ID        string  `json:"id"`
	SessionID *string `json:"sessionId"`
	SiteID    string  `json:"siteId"`
	Text      string  `json:"text"`
	Lang      string  `json:"lang,omitempty"`
	Voice     string  `json:"voice,omitempty"`
}

// PlayFinished is emitted by the audio server once a playBytes command has
// been played. ID echoes the playback ID from the playBytes topic.
type PlayFinished struct {
	ID     string `json:"id"`
	SiteID string `json:"siteId,omitempty"`
}

// SayFinished acknowledges a SayRequest. SessionID is always serialized,
// as null when unset.
type SayFinished struct {
	ID        string  `json:"id"`
	SessionID *string `json:"sessionId"`
}

// PlayBytesTopic is the topic the audio server on siteID listens on for the
// playback identified by playbackID.
func PlayBytesTopic(siteID, playbackID string) string {
	return fmt.Sprintf("hermes/audioServer/%s/playBytes/%s", siteID, playbackID)
}

// DecodeSayRequest parses and validates a hermes/tts/say payload.
func DecodeSayRequest(data []byte) (SayRequest, error) {
	var req SayRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch {
	case req.ID == "":
		return req, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	case req.SiteID == "":
		return req, fmt.Errorf("%w: missing siteId", ErrMalformedEvent)
	case strings.ContainsAny(req.SiteID, "/+#"):
		return req, fmt.Errorf("%w: siteId %q is not a topic level", ErrMalformedEvent, req.SiteID)
	case req.Text == "":
		return req, fmt.Errorf("%w: missing text", ErrMalformedEvent)
	}
	return req, nil
}

// DecodePlayFinished parses and validates a playFinished payload.
func DecodePlayFinished(data []byte) (PlayFinished, error) {
	var evt PlayFinished
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.ID == "" {
		return evt, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}
	return evt, nil
}

// TopicMatches reports whether topic matches an MQTT subscription pattern
// using the + (single level) and # (trailing multi level) wildcards.
func TopicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, p := range pp {
		if p == "#" {
			return i == len(pp)-1
		}
		if i >= len(tp) {
			return false
		}
		if p != "+" && p != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}
