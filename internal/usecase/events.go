package usecase

import (
	"strings"

	"github.com/FlooooowY/SteelMount-Script-Shield/internal/domain"
	"github.com/google/uuid"
)

// EventEmitter is the fire-and-forget notification sink
type EventEmitter interface {
	Emit(event domain.Event)
}

type noopEmitter struct{}

func (noopEmitter) Emit(domain.Event) {}

func emitterOrNoop(e EventEmitter) EventEmitter {
	if e == nil {
		return noopEmitter{}
	}
	return e
}

// newToken returns a 32 character opaque id
func newToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
