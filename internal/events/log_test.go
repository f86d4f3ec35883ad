package events

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"episode-generator/internal/models"
)

func TestLog_RecentNewestFirstAndFiltered(t *testing.T) {
	l := New(nil, WithCapacity(3))
	l.Info("a", "one")
	l.Warn("b", "two")
	l.Error("c", "three")
	l.Info("d", "four")

	all := l.Recent("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"four", "three", "two"}, []string{all[0].Message, all[1].Message, all[2].Message})

	infos := l.Recent(models.LevelInfo, 10)
	require.Len(t, infos, 1)
	assert.Equal(t, "d", infos[0].QueueItemID)

	assert.Len(t, l.Recent("", 2), 2)
}

func TestLog_MirrorsToZapAtLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Info("item-1", "stage completed", zap.String("stage", "scrape"))
	l.Warn("item-1", "quality gate rejected summary")
	l.Error("item-2", "executor panicked")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "item-1", entries[0].ContextMap()["item_id"])
	assert.Equal(t, "scrape", entries[0].ContextMap()["stage"])
}

type recordingSink struct {
	mu  sync.Mutex
	evs []models.LogEvent
}

func (s *recordingSink) AppendEvent(_ context.Context, ev models.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func TestLog_SinkReceivesEventsBeforeClose(t *testing.T) {
	sink := &recordingSink{}
	l := New(nil, WithSink(sink))
	for i := 0; i < 10; i++ {
		l.Info("", fmt.Sprintf("event %d", i))
	}
	l.Close()
	l.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.evs, 10)
	assert.Equal(t, "event 0", sink.evs[0].Message)
}

func TestLog_RecordAfterCloseSkipsSink(t *testing.T) {
	sink := &recordingSink{}
	l := New(nil, WithSink(sink))
	l.Info("", "before close")
	l.Close()

	require.NotPanics(t, func() {
		l.Warn("item-1", "late stage result")
	})
	assert.Equal(t, "late stage result", l.Recent("", 1)[0].Message)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.evs, 1)
	assert.Equal(t, "before close", sink.evs[0].Message)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, models.LevelWarning, lvl)
	_, err = ParseLevel("debug")
	assert.Error(t, err)
}
