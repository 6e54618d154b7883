package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), maxAttempts)
	s.unit = time.Millisecond
	return s
}

func TestStartup_StartsInDependencyOrderAndStopsInReverse(t *testing.T) {
	s := newTestStartup(1)
	var events []string
	record := func(name string) *Dependency {
		return &Dependency{
			Name:    name,
			OnStart: func(context.Context) error { events = append(events, "start:"+name); return nil },
			OnStop:  func(context.Context) error { events = append(events, "stop:"+name); return nil },
		}
	}

	api := record("api")
	api.Requires = []string{"ledger", "database"}
	s.AddDependency(api)
	s.AddDependency(record("database"))
	s.AddDependency(record("ledger"))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, []string{
		"start:ledger", "start:database", "start:api",
		"stop:api", "stop:database", "stop:ledger",
	}, events)
}

func TestStartup_RetriesFailedDependency(t *testing.T) {
	s := newTestStartup(3)
	calls := 0
	s.AddDependency(&Dependency{
		Name: "database",
		OnStart: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, StartupStatusStarted, s.Status("database"))
}

func TestStartup_GivesUp(t *testing.T) {
	s := newTestStartup(2)
	s.AddDependency(&Dependency{
		Name:    "redis",
		OnStart: func(context.Context) error { return errors.New("no route to host") },
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("redis"))
}

func TestStartup_UnknownDependency(t *testing.T) {
	s := newTestStartup(1)
	s.AddDependency(&Dependency{Name: "api", Requires: []string{"missing"}})

	assert.Error(t, s.Start(context.Background()))
}
