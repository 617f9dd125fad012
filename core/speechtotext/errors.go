package speechtotext

import "errors"

// ErrProtocol reports that the transcription service violated its protocol:
// rejected credentials or a sustained stream of messages the client cannot
// parse. Callers can match it with errors.Is to tell protocol violations
// apart from plain connectivity loss.
var ErrProtocol = errors.New("transcription protocol violation")
