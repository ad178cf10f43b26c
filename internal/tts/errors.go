package tts

import "errors"

// ErrSynthesisFailed is matched by every error returned from a backend.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// SynthesisError carries the backend and voice of a failed synthesis call.
type SynthesisError struct {
	Provider string
	Voice    string
	Cause    error
}

func NewSynthesisError(provider, voice string, cause error) *SynthesisError {
	return &SynthesisError{Provider: provider, Voice: voice, Cause: cause}
}

func (e *SynthesisError) Error() string {
	msg := e.Provider + ": " + ErrSynthesisFailed.Error()
	if e.Voice != "" {
		msg += " (voice " + e.Voice + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesisFailed }
