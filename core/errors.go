package orchestration

import "errors"

var (
	// ErrTranscriptionUnavailable reports that the transcription link failed
	// and could not be restored. The session terminates with this error.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")

	// ErrDeviceUnavailable reports that an audio device could not be opened
	// or stopped working mid-session.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrProtocolFailure reports that a vendor sent something the client
	// could not interpret.
	ErrProtocolFailure = errors.New("vendor protocol failure")

	// ErrSessionClosed reports an operation on a session that has already
	// terminated.
	ErrSessionClosed = errors.New("session closed")
)
