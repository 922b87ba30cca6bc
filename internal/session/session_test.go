package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreGetOrCreateIsStable(t *testing.T) {
	store := NewStore()
	a := store.GetOrCreate("s1")
	b := store.GetOrCreate("s1")

	assert.Same(t, a, b)
	assert.Equal(t, 1, store.Count())
}

func TestSessionAppendPreservesOrder(t *testing.T) {
	sess := NewStore().GetOrCreate("s1")

	sess.Lock()
	sess.Append(ChatTurn{Role: RoleUser, Content: "hello"})
	sess.Append(ChatTurn{Role: RoleAssistant, Content: "hi there"})
	sess.Unlock()

	history := sess.Snapshot()
	if assert.Len(t, history, 2) {
		assert.Equal(t, RoleUser, history[0].Role)
		assert.Equal(t, "hello", history[0].Content)
		assert.Equal(t, RoleAssistant, history[1].Role)
		assert.Equal(t, "hi there", history[1].Content)
	}
}

// TestConcurrentSessionsPreserveOwnPrefix is the session ordering testable
// property (spec section 8, property 1): two sessions written concurrently
// never observe each other's turns, and each session's own history remains
// exactly the prefix its own appends produced, in order.
func TestConcurrentSessionsPreserveOwnPrefix(t *testing.T) {
	store := NewStore()

	const perSession = 40
	var wg sync.WaitGroup
	for _, id := range []string{"s1", "s2", "s3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sess := store.GetOrCreate(id)
			for i := 0; i < perSession; i++ {
				sess.Lock()
				sess.Append(ChatTurn{Role: RoleUser, Content: id})
				sess.Unlock()
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"s1", "s2", "s3"} {
		history := store.GetOrCreate(id).Snapshot()
		assert.Len(t, history, perSession)
		for _, turn := range history {
			assert.Equal(t, id, turn.Content, "session %s must never observe another session's turns", id)
		}
	}
}

func TestSessionLockSerializesOneTurnAtATime(t *testing.T) {
	sess := NewStore().GetOrCreate("s1")

	sess.Lock()
	done := make(chan struct{})
	go func() {
		sess.Lock()
		sess.Append(ChatTurn{Role: RoleUser, Content: "second"})
		sess.Unlock()
		close(done)
	}()

	sess.Append(ChatTurn{Role: RoleUser, Content: "first"})
	sess.Unlock()
	<-done

	history := sess.Snapshot()
	assert.Equal(t, []string{"first", "second"}, []string{history[0].Content, history[1].Content})
}
