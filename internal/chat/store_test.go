package chat

import (
	"math/rand/v2"
	"slices"
	"strconv"
	"testing"
	"time"
)

func TestStoreAppendDedupsAndOrders(t *testing.T) {
	s := NewStore("job")

	inserted := s.Append(msgAt("3", 102), msgAt("1", 100), msgAt("2", 101), msgAt("1", 100))
	if len(inserted) != 3 {
		t.Fatalf("expected 3 inserted, got %d", len(inserted))
	}
	if again := s.Append(msgAt("2", 101)); len(again) != 0 {
		t.Fatalf("duplicate should not be inserted, got %v", ids(again))
	}

	got := ids(s.Snapshot())
	want := []string{"1", "2", "3"}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected order: got %v want %v", got, want)
	}
}

func TestStoreTiesBreakOnID(t *testing.T) {
	s := NewStore("job")
	s.Append(msgAt("b", 100), msgAt("c", 100), msgAt("a", 100), msgAt("z", 99))

	got := ids(s.Snapshot())
	want := []string{"z", "a", "b", "c"}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected order: got %v want %v", got, want)
	}
}

func TestStoreSnapshotPageIsIdempotent(t *testing.T) {
	page := []Message{msgAt("1", 100), msgAt("2", 101), msgAt("5", 105)}

	once := NewStore("job")
	once.Append(page...)

	twice := NewStore("job")
	twice.Append(page...)
	twice.Append(page...)

	if !slices.Equal(ids(once.Snapshot()), ids(twice.Snapshot())) {
		t.Fatalf("re-applying a page changed the store: %v vs %v", ids(once.Snapshot()), ids(twice.Snapshot()))
	}
	if once.Latest() != twice.Latest() || once.Oldest() != twice.Oldest() {
		t.Fatalf("bounds differ after re-apply")
	}
}

func TestStoreSkipsInvalidAndForeignMessages(t *testing.T) {
	s := NewStore("job")

	foreign := msgAt("9", 100)
	foreign.ConversationID = "other"
	empty := msgAt("8", 100)
	empty.Text = "  "
	noID := msgAt("", 100)
	pending := msgAt("7", 100)
	pending.Pending = true
	withAttachment := msgAt("6", 100)
	withAttachment.Text = ""
	withAttachment.AttachmentRef = "job/1_photo.jpg"

	inserted := s.Append(foreign, empty, noID, pending, withAttachment)
	if got := ids(inserted); !slices.Equal(got, []string{"6"}) {
		t.Fatalf("expected only the attachment message, got %v", got)
	}
}

func TestStoreArbitraryArrivalOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for round := range 50 {
		var all []Message
		for i := range 40 {
			// few distinct timestamps to exercise the id tiebreaker
			all = append(all, msgAt(strconv.Itoa(i), int64(100+rng.IntN(8))))
		}
		// duplicate arrivals
		for range 30 {
			all = append(all, all[rng.IntN(40)])
		}
		rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

		s := NewStore("job")
		for len(all) > 0 {
			n := 1 + rng.IntN(6)
			if n > len(all) {
				n = len(all)
			}
			s.Append(all[:n]...)
			all = all[n:]
		}

		view := s.Snapshot()
		if len(view) != 40 {
			t.Fatalf("round %d: expected 40 unique messages, got %d", round, len(view))
		}
		seen := make(map[string]bool)
		for i, m := range view {
			if seen[m.ID] {
				t.Fatalf("round %d: id %s present twice", round, m.ID)
			}
			seen[m.ID] = true
			if i > 0 && !view[i-1].Key().Less(m.Key()) {
				t.Fatalf("round %d: not strictly ordered at %d: %v then %v", round, i, view[i-1].Key(), m.Key())
			}
		}
	}
}

func TestStorePendingEchoIsReplacedByCanonical(t *testing.T) {
	s := NewStore("job")
	s.Append(msgAt("1", 100))

	echo := Message{Text: "hi", ClientToken: "tok-1", CreatedAt: time.Unix(200, 0)}
	if !s.AddPending(echo) {
		t.Fatal("expected echo to be added")
	}
	view := s.Snapshot()
	if len(view) != 2 || !view[1].Pending || view[1].ConversationID != "job" {
		t.Fatalf("unexpected view with echo: %+v", view)
	}

	canonical := msgAt("2", 150)
	canonical.Text = "hi"
	canonical.ClientToken = "tok-1"
	s.Append(canonical)

	view = s.Snapshot()
	hi := 0
	for _, m := range view {
		if m.Text == "hi" {
			hi++
		}
		if m.Pending {
			t.Fatalf("echo survived canonical arrival: %+v", m)
		}
	}
	if hi != 1 {
		t.Fatalf("expected exactly one hi, got %d", hi)
	}

	if s.AddPending(echo) {
		t.Fatal("echo must not be re-added once the canonical copy is stored")
	}
	if m, ok := s.Confirmed("tok-1"); !ok || m.ID != "2" {
		t.Fatalf("confirmed lookup failed: %+v %v", m, ok)
	}
}

func TestStorePendingRendersAfterPersisted(t *testing.T) {
	s := NewStore("job")
	s.AddPending(Message{Text: "first", ClientToken: "a"})
	s.AddPending(Message{Text: "second", ClientToken: "b"})
	s.Append(msgAt("1", 100))

	var texts []string
	for m := range s.View() {
		texts = append(texts, m.Text)
	}
	want := []string{"m1", "first", "second"}
	if !slices.Equal(texts, want) {
		t.Fatalf("got %v want %v", texts, want)
	}

	if !s.DropPending("a") || s.DropPending("a") {
		t.Fatal("DropPending should remove exactly once")
	}
	if s.PendingLen() != 1 {
		t.Fatalf("expected one echo left, got %d", s.PendingLen())
	}
}

func TestStoreViewIsLazyAndRestartable(t *testing.T) {
	s := NewStore("job")
	view := s.View()

	// Messages appended after View was called are visible: nothing is read
	// until iteration starts.
	s.Append(msgAt("1", 100), msgAt("2", 101), msgAt("3", 102))

	count := func() int {
		n := 0
		for range view {
			n++
		}
		return n
	}
	if count() != 3 || count() != 3 {
		t.Fatal("view should yield the same messages on every range")
	}

	for m := range view {
		if m.ID != "1" {
			t.Fatalf("expected oldest first, got %s", m.ID)
		}
		break
	}

	s.Append(msgAt("4", 103))
	if count() != 4 {
		t.Fatal("restarted view should see new messages")
	}
}
