package orchestration

import (
	"reflect"

	"github.com/hotline-labs/hotline-core/core/audio"
)

// audioOutput wraps the configured playback client.
//
// NOTE: methods intentionally do best-effort forwarding and ignore client
// return errors because the pipeline treats audio output as a non-fatal side
// effect.
type audioOutput struct {
	client AudioOutput
}

func newAudioOutput(client AudioOutput) *audioOutput {
	audioOutput := audioOutput{}
	audioOutput.Set(client)
	return &audioOutput
}

// Set replaces the configured output client. Nil and typed-nil clients are
// treated as unconfigured.
func (a *audioOutput) Set(client AudioOutput) {
	if a == nil {
		return
	}

	if isNilClient(client) {
		a.client = nil
		return
	}
	a.client = client
}

func (a *audioOutput) isConfigured() bool {
	return a != nil && a.client != nil
}

func (a *audioOutput) SendAudio(audio []byte) {
	if a.isConfigured() {
		_ = a.client.SendAudio(audio)
	}
}

// Mark asks the output to report when everything queued before this point has
// played. Without output configured, the callback is invoked immediately so
// pipeline state can continue progressing.
func (a *audioOutput) Mark(mark string, callback func(string)) {
	if a.isConfigured() {
		_ = a.client.Mark(mark, callback)
		return
	}

	callback(mark)
}

func (a *audioOutput) Clear() {
	if a.isConfigured() {
		a.client.ClearBuffer()
	}
}

// EncodingInfo returns the active output encoding metadata. If no client is
// configured, the project default encoding is used.
func (a *audioOutput) EncodingInfo() audio.EncodingInfo {
	if a.isConfigured() {
		return a.client.EncodingInfo()
	}

	return audio.GetDefaultEncodingInfo()
}

// isNilClient detects nil and typed-nil interface values so facades avoid
// storing unusable interface wrappers as configured clients.
func isNilClient(client any) bool {
	if client == nil {
		return true
	}

	v := reflect.ValueOf(client)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
