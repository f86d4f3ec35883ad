package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"episode-generator/internal/models"
)

type fakeStarter struct{ res models.ControlResult }

func (f fakeStarter) Start() models.ControlResult { return f.res }

func TestStartReportsRefusal(t *testing.T) {
	require.NoError(t, start(fakeStarter{res: models.ControlResult{Success: true, Message: "processor started"}}))

	err := start(fakeStarter{res: models.ControlResult{Success: false, Message: "processor is stopping; in-flight stages are still draining"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still draining")
}
