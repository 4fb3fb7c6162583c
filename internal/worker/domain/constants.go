package domain

// Notification status constants
const (
	NotificationStatusSending = "SENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)
