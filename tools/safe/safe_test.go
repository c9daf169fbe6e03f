package safe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type thing struct{}

func TestMustNotNil(t *testing.T) {
	var p *thing
	assert.Panics(t, func() { MustNotNil(nil, "x") })
	assert.Panics(t, func() { MustNotNil(p, "p") })
	assert.NotPanics(t, func() { MustNotNil(&thing{}, "p") })
	assert.NotPanics(t, func() { MustNotNil(thing{}, "v") })
}

func TestGoRecovers(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	Go(zap.New(core), "boom", func() { panic("boom") })

	assert.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	entry := logs.All()[0]
	assert.Equal(t, "goroutine panic recovered", entry.Message)
	assert.Equal(t, "boom", entry.ContextMap()["name"])
}
