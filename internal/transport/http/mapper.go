package http

import (
	"github.com/samber/lo"

	"github.com/vovakirdan/jobchat/internal/objstore"
	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/store"
)

func messageToProto(m store.Message, bucket objstore.Bucket) proto.Message {
	out := proto.Message{
		ID:            m.ID,
		JobID:         m.JobID,
		SenderID:      m.SenderID,
		CreatedAt:     m.CreatedAt.UTC(),
		Text:          m.Text,
		AttachmentRef: m.AttachmentRef,
		ClientToken:   m.ClientToken,
		Sender: proto.SenderDisplay{
			Name:      m.SenderName,
			AvatarURL: m.SenderAvatarURL,
		},
	}
	if m.AttachmentRef != "" && bucket != nil {
		out.AttachmentURL = bucket.URL(m.AttachmentRef)
	}
	return out
}

func messagesToProto(msgs []store.Message, bucket objstore.Bucket) []proto.Message {
	return lo.Map(msgs, func(m store.Message, _ int) proto.Message {
		return messageToProto(m, bucket)
	})
}

func userToProto(u *store.User) proto.User {
	return proto.User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        string(u.Role),
	}
}

func jobToProto(j store.Job) proto.Job {
	return proto.Job{
		ID:             j.ID,
		PhotographerID: j.PhotographerID,
		CustomerID:     j.CustomerID,
		EventType:      j.EventType,
		EventDate:      j.EventDate.UTC(),
		Location:       j.Location,
		Status:         string(j.Status),
		CreatedAt:      j.CreatedAt.UTC(),
	}
}

func jobsToProto(jobs []store.Job) []proto.Job {
	return lo.Map(jobs, func(j store.Job, _ int) proto.Job { return jobToProto(j) })
}
