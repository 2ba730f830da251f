package synchub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theHdd4/trinity-orchestrator/pkg/models"
	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
)

func TestHubReusesRoomPerProject(t *testing.T) {
	hub := NewHub(storage.NewMemDocStore(), time.Minute)

	a := hub.Room(testProject)
	b := hub.Room(testProject)
	other := hub.Room(models.ProjectContext{Client: "acme", App: "forecast", Project: "q4"})

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, hub.RoomCount())
}

func TestHubDropsRoomWhenLastClientLeaves(t *testing.T) {
	hub := NewHub(storage.NewMemDocStore(), time.Minute)
	room := hub.Room(testProject)

	c1 := room.Join(&fakeConn{})
	c2 := room.Join(&fakeConn{})
	require.Equal(t, 1, hub.RoomCount())

	room.Leave(c1)
	assert.Equal(t, 1, hub.RoomCount())
	room.Leave(c2)
	assert.Equal(t, 0, hub.RoomCount())

	// A fresh join builds a new room under the same key.
	assert.NotSame(t, room, hub.Room(testProject))
}

func TestHubShutdownFlushesEveryRoom(t *testing.T) {
	docs := storage.NewMemDocStore()
	hub := NewHub(docs, time.Minute)
	otherProject := models.ProjectContext{Client: "acme", App: "forecast", Project: "q4"}

	for _, project := range []models.ProjectContext{testProject, otherProject} {
		room := hub.Room(project)
		conn := &fakeConn{}
		c := room.Join(conn)
		for _, msg := range []Message{
			{Type: MsgConnect, User: "alice", Mode: string(models.ModeLaboratory)},
			{Type: MsgStateUpdate, Payload: map[string]any{
				"cards": []any{map[string]any{"id": "card-" + project.Project}},
			}},
		} {
			raw, err := json.Marshal(msg)
			require.NoError(t, err)
			require.NoError(t, room.Handle(context.Background(), c, raw))
		}
	}

	hub.Shutdown()

	for _, project := range []models.ProjectContext{testProject, otherProject} {
		key := storage.StateKey{
			Client:  project.Client,
			App:     project.App,
			Project: project.Project,
			Mode:    string(models.ModeLaboratory),
		}
		require.Equal(t, 1, docs.SaveCount(key), "project %s", project.Project)
		state, err := docs.LoadProjectState(context.Background(), key)
		require.NoError(t, err)
		require.Len(t, state.Cards, 1)
		assert.Equal(t, "card-"+project.Project, state.Cards[0].CardID())
	}
}
