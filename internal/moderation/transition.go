package moderation

import "github.com/nikhilbhutani/promptlib/internal/models"

var transitions = map[models.PublishStatus][]models.PublishStatus{
	models.StatusDraft:        {models.StatusOnModeration},
	models.StatusRejected:     {models.StatusOnModeration},
	models.StatusOnModeration: {models.StatusPublished, models.StatusRejected},
	models.StatusPublished:    {models.StatusRejected},
}

// CanTransition reports whether a version in status from may move to to.
func CanTransition(from, to models.PublishStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EventFor returns the notification sent when a version enters status.
func EventFor(status models.PublishStatus) (models.NotificationEvent, bool) {
	switch status {
	case models.StatusOnModeration:
		return models.EventModerationSubmit, true
	case models.StatusPublished:
		return models.EventModerationApprove, true
	case models.StatusRejected:
		return models.EventModerationReject, true
	}
	return "", false
}
