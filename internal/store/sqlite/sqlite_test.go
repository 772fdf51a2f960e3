package sqlite

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/vovakirdan/jobchat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedJob(t *testing.T, s *SQLiteStore) (*store.Job, *store.User, *store.User) {
	t.Helper()
	ctx := context.Background()

	photographer, err := s.CreateUser(ctx, store.NewUser{Email: "pat@example.com", PasswordHash: "h", DisplayName: "Pat", Role: store.RolePhotographer})
	if err != nil {
		t.Fatalf("create photographer: %v", err)
	}
	customer, err := s.CreateUser(ctx, store.NewUser{Email: "cam@example.com", PasswordHash: "h", DisplayName: "Cam", AvatarURL: "https://img.test/cam.png", Role: store.RoleCustomer})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	job, err := s.CreateJob(ctx, store.NewJob{
		PhotographerID: photographer.ID,
		CustomerID:     customer.ID,
		EventType:      "wedding",
		EventDate:      time.Date(2025, 9, 6, 14, 0, 0, 0, time.UTC),
		Location:       "Lisbon",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job, photographer, customer
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, store.NewUser{Email: "a@example.com", PasswordHash: "h", DisplayName: "A", Role: store.RoleCustomer})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateUser(ctx, store.NewUser{Email: "A@example.com", PasswordHash: "h", DisplayName: "A2", Role: store.RoleCustomer}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "A@EXAMPLE.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("lookup by email: %+v %v", got, err)
	}
	if _, err := s.GetUserByID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, photographer, customer := seedJob(t, s)

	if job.Status != store.JobPending {
		t.Fatalf("new job status %q", job.Status)
	}
	if !job.HasParticipant(photographer.ID) || !job.HasParticipant(customer.ID) || job.HasParticipant("stranger") {
		t.Fatal("participant check is wrong")
	}

	if err := s.UpdateJobStatus(ctx, job.ID, store.JobAccepted); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil || got.Status != store.JobAccepted {
		t.Fatalf("reload: %+v %v", got, err)
	}
	if !got.EventDate.Equal(job.EventDate) {
		t.Fatalf("event date changed: %v vs %v", got.EventDate, job.EventDate)
	}

	for _, id := range []string{photographer.ID, customer.ID} {
		jobs, err := s.ListJobsForUser(ctx, id)
		if err != nil || len(jobs) != 1 || jobs[0].ID != job.ID {
			t.Fatalf("list for %s: %+v %v", id, jobs, err)
		}
	}
	if err := s.UpdateJobStatus(ctx, "missing", store.JobAccepted); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertMessageIsIdempotentOnClientToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, photographer, customer := seedJob(t, s)

	first, created, err := s.InsertMessage(ctx, store.NewMessage{JobID: job.ID, SenderID: customer.ID, Text: "hi", ClientToken: "tok-1"})
	if err != nil || !created {
		t.Fatalf("insert: %v created=%v", err, created)
	}
	if first.SenderName != "Cam" || first.SenderAvatarURL != "https://img.test/cam.png" {
		t.Fatalf("sender display not joined: %+v", first)
	}

	again, created, err := s.InsertMessage(ctx, store.NewMessage{JobID: job.ID, SenderID: customer.ID, Text: "hi", ClientToken: "tok-1"})
	if err != nil || created {
		t.Fatalf("replay: %v created=%v", err, created)
	}
	if again.ID != first.ID || !again.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("replay returned a different row: %+v vs %+v", again, first)
	}

	if _, _, err := s.InsertMessage(ctx, store.NewMessage{JobID: job.ID, SenderID: photographer.ID, Text: "mine", ClientToken: "tok-1"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("token of another sender should conflict, got %v", err)
	}

	// No token: never deduplicated.
	for range 2 {
		if _, created, err := s.InsertMessage(ctx, store.NewMessage{JobID: job.ID, SenderID: customer.ID, Text: "plain"}); err != nil || !created {
			t.Fatalf("insert without token: %v", err)
		}
	}
	msgs, err := s.ListMessages(ctx, job.ID, store.Range{Limit: 10})
	if err != nil || len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d (%v)", len(msgs), err)
	}
}

func TestInsertMessageTimestampsAreStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, photographer, _ := seedJob(t, s)

	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	var prev time.Time
	for i := range 5 {
		m, _, err := s.InsertMessage(ctx, store.NewMessage{JobID: job.ID, SenderID: photographer.ID, Text: fmt.Sprint(i)})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if i > 0 && !m.CreatedAt.After(prev) {
			t.Fatalf("created_at %v not after %v", m.CreatedAt, prev)
		}
		prev = m.CreatedAt
	}

	// A clock that goes backwards must not break the order either.
	s.now = func() time.Time { return frozen.Add(-time.Hour) }
	m, _, err := s.InsertMessage(ctx, store.NewMessage{JobID: job.ID, SenderID: photographer.ID, Text: "late"})
	if err != nil || !m.CreatedAt.After(prev) {
		t.Fatalf("clock skew broke ordering: %v %v", m.CreatedAt, err)
	}
}

func TestListMessagesRanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, photographer, _ := seedJob(t, s)

	var all []store.Message
	for i := range 7 {
		m, _, err := s.InsertMessage(ctx, store.NewMessage{JobID: job.ID, SenderID: photographer.ID, Text: fmt.Sprint(i)})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		all = append(all, *m)
	}
	texts := func(msgs []store.Message) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Text)
		}
		return out
	}
	cursor := func(m store.Message) *store.Cursor { return &store.Cursor{CreatedAt: m.CreatedAt, ID: m.ID} }

	tests := []struct {
		name string
		r    store.Range
		want []string
	}{
		{"newest page", store.Range{Limit: 3}, []string{"4", "5", "6"}},
		{"before", store.Range{Limit: 3, Before: cursor(all[4])}, []string{"1", "2", "3"}},
		{"before start", store.Range{Limit: 3, Before: cursor(all[1])}, []string{"0"}},
		{"after", store.Range{Limit: 2, After: cursor(all[2])}, []string{"3", "4"}},
		{"after end", store.Range{Limit: 2, After: cursor(all[6])}, []string{}},
		{"after timestamp only", store.Range{Limit: 10, After: &store.Cursor{CreatedAt: all[5].CreatedAt}}, []string{"5", "6"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListMessages(ctx, job.ID, tt.r)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if !slices.Equal(texts(got), tt.want) {
				t.Fatalf("got %v want %v", texts(got), tt.want)
			}
		})
	}
}

func TestAttachmentReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, photographer, _ := seedJob(t, s)

	ref := job.ID + "/1700000000_photo.jpg"
	if ok, err := s.AttachmentReferenced(ctx, ref); err != nil || ok {
		t.Fatalf("unreferenced: %v %v", ok, err)
	}
	if _, _, err := s.InsertMessage(ctx, store.NewMessage{JobID: job.ID, SenderID: photographer.ID, AttachmentRef: ref}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ok, err := s.AttachmentReferenced(ctx, ref); err != nil || !ok {
		t.Fatalf("referenced: %v %v", ok, err)
	}
}
