package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// EventName identifies a server-pushed event on the realtime stream.
type EventName string

const (
	EventStatusChanged          EventName = "status-changed"
	EventContactChanged         EventName = "contact-changed"
	EventNewMessage             EventName = "new-message"
	EventDispatchChanged        EventName = "dispatch-changed"
	EventWorkflowContactChanged EventName = "workflow-contact-changed"
	EventGroupsChanged          EventName = "groups-changed"
	EventError                  EventName = "error"
)

// EventNames lists every event the stream carries, in a fixed order.
var EventNames = []EventName{
	EventStatusChanged,
	EventContactChanged,
	EventNewMessage,
	EventDispatchChanged,
	EventWorkflowContactChanged,
	EventGroupsChanged,
	EventError,
}

// Event is the envelope of a single frame read from the stream.
type Event struct {
	Name EventName       `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeAudio MessageType = "audio"
	MessageTypeVideo MessageType = "video"
	MessageTypeFile  MessageType = "document"
)

// Message represents a chat message in a contact conversation.
type Message struct {
	ID          string      `json:"id"`
	MessageID   string      `json:"messageId"` // Provider side message id
	FromMe      bool        `json:"fromMe"`
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content"`
	MediaURL    string      `json:"mediaUrl,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Read        bool        `json:"read"`
}

// Contact represents a kanban card.
type Contact struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	ColumnID      string    `json:"columnId"`
	UnreadCount   int       `json:"unreadCount"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Labels        []string  `json:"labels"`
}

// Group represents a messaging group managed by an instance.
type Group struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
}

type InstanceStatus string

const (
	InstanceStatusConnected    InstanceStatus = "connected"
	InstanceStatusConnecting   InstanceStatus = "connecting"
	InstanceStatusDisconnected InstanceStatus = "disconnected"
	InstanceStatusQRCode       InstanceStatus = "qrcode"
)

// StatusChanged is the payload of EventStatusChanged.
type StatusChanged struct {
	InstanceID string         `json:"instanceId"`
	Status     InstanceStatus `json:"status"`
	QRCode     string         `json:"qrCode,omitempty"`
}

// ContactChanged is the payload of EventContactChanged. Contact is nil when
// the server only signals that something about the contact changed.
type ContactChanged struct {
	InstanceID string   `json:"instanceId"`
	ContactID  string   `json:"contactId"`
	Contact    *Contact `json:"contact,omitempty"`
}

// NewMessage is the payload of EventNewMessage.
type NewMessage struct {
	InstanceID string    `json:"instanceId"`
	ContactID  string    `json:"contactId"`
	Messages   []Message `json:"messages"`
}

type DispatchStatus string

const (
	DispatchStatusQueued    DispatchStatus = "queued"
	DispatchStatusRunning   DispatchStatus = "running"
	DispatchStatusPaused    DispatchStatus = "paused"
	DispatchStatusCompleted DispatchStatus = "completed"
	DispatchStatusFailed    DispatchStatus = "failed"
)

// DispatchChanged is the payload of EventDispatchChanged (broadcast progress).
type DispatchChanged struct {
	InstanceID string         `json:"instanceId"`
	DispatchID string         `json:"dispatchId"`
	Status     DispatchStatus `json:"status"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Total      int            `json:"total"`
}

// WorkflowContactChanged is the payload of EventWorkflowContactChanged.
type WorkflowContactChanged struct {
	WorkflowID string   `json:"workflowId"`
	ContactID  string   `json:"contactId"`
	Contact    *Contact `json:"contact,omitempty"`
}

// GroupsChanged is the payload of EventGroupsChanged. It carries no delta.
type GroupsChanged struct {
	InstanceID string `json:"instanceId"`
}

// StreamError is the payload of EventError.
type StreamError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// OutgoingMessage is what a user composes before it is sent.
type OutgoingMessage struct {
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content"`
	MediaURL    string      `json:"mediaUrl,omitempty"`
}
