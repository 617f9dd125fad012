package deepgram

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/hotline-labs/hotline-core/core/speechtotext/deepgram"

var (
	logger = otelslog.NewLogger(scopeName)
)
