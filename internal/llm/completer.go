// Package llm provides the grounded completion client: the question and
// retrieved context are sent with a strict instruction to answer only from
// that context.
package llm

import (
	"context"
	"errors"
)

// UnavailableAnswer is the canonical sentinel returned when no grounded
// answer can be produced.
const UnavailableAnswer = "Not available."

// systemInstruction constrains the model to the supplied context.
const systemInstruction = "You are a helpful assistant. Use only the provided context to answer. " +
	"If information is missing, respond: 'Not available.'"

// ErrCompletionUnavailable reports a failure of the external completion
// service. Once retrieval has produced context, this is a system failure and
// propagates to the caller; it is never masked as the sentinel answer.
var ErrCompletionUnavailable = errors.New("completion service unavailable")

// Completer produces a grounded answer for a question given retrieval context.
type Completer interface {
	Complete(ctx context.Context, question, contextText string) (string, error)
}
