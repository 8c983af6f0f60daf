package state

import (
	"sync"
	"testing"
)

func assertContent(t *testing.T, table *MessagesTable, userID, serverID int64, want string) {
	t.Helper()
	msg, err := table.Select(userID, serverID)
	assertNoError(t, err)
	if msg == nil {
		t.Fatalf("no message row for (%d,%d), want content %q", userID, serverID, want)
	}
	if msg.Content != want {
		t.Errorf("content for (%d,%d): got %q want %q", userID, serverID, msg.Content, want)
	}
}

func TestMessagesTableRoundTrip(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	table := NewMessagesTable(db)
	userID := int64(4201)
	serverID := int64(77)

	// missing row selects as nil
	msg, err := table.Select(userID, serverID)
	assertNoError(t, err)
	if msg != nil {
		t.Fatalf("expected no message, got %+v", msg)
	}

	// save then get
	assertNoError(t, table.Upsert(userID, serverID, "hello"))
	assertContent(t, table, userID, serverID, "hello")

	// saving again replaces
	assertNoError(t, table.Upsert(userID, serverID, "world"))
	assertContent(t, table, userID, serverID, "world")

	// reset restores the default
	found, err := table.Reset(userID, serverID)
	assertNoError(t, err)
	if !found {
		t.Fatalf("reset did not find the row")
	}
	assertContent(t, table, userID, serverID, DefaultMessageContent)
}

func TestMessagesTableResetAbsentWritesNothing(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	table := NewMessagesTable(db)
	userID := int64(4202)
	serverID := int64(78)

	found, err := table.Reset(userID, serverID)
	assertNoError(t, err)
	if found {
		t.Fatalf("reset reported a row which should not exist")
	}
	msg, err := table.Select(userID, serverID)
	assertNoError(t, err)
	if msg != nil {
		t.Fatalf("reset on an absent pair created a row: %+v", msg)
	}
}

func TestMessagesTableConcurrentWriters(t *testing.T) {
	db, close := connectToDB(t)
	defer close()
	table := NewMessagesTable(db)

	// disjoint pairs never interfere
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			if err := table.Upsert(5000+i, 90+i, "msg"); err != nil {
				t.Errorf("concurrent upsert failed: %s", err)
			}
		}(int64(i))
	}
	wg.Wait()
	assertContent(t, table, 5000, 90, "msg")
	assertContent(t, table, 5001, 91, "msg")

	// same pair: row must equal one of the two submitted contents
	contents := []string{"first", "second"}
	for i := range contents {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			if err := table.Upsert(6000, 95, c); err != nil {
				t.Errorf("concurrent upsert failed: %s", err)
			}
		}(contents[i])
	}
	wg.Wait()
	msg, err := table.Select(6000, 95)
	assertNoError(t, err)
	if msg == nil {
		t.Fatalf("no message row after concurrent writes")
	}
	if msg.Content != "first" && msg.Content != "second" {
		t.Errorf("content is neither submitted value: %q", msg.Content)
	}
}
