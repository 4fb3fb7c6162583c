package domain

import (
	core "github.com/cuongbtq/gallery-pipeline/internal/domain"
)

// EventMessage is a decoded gallery-ready event plus its delivery metadata
type EventMessage struct {
	Event       core.GalleryReadyEvent
	DeliveryTag uint64
	Redelivered bool
}
