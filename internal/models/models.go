package models

import (
	"time"
)

// ProviderKind identifies the messaging backend an account is bound to.
type ProviderKind string

const (
	ProviderEvolution ProviderKind = "evolution"
	ProviderQuepasa   ProviderKind = "quepasa"
)

// ConnectionState tracks the lifecycle of the provider-side instance.
type ConnectionState string

const (
	StateNotCreated   ConnectionState = "not_created"
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// Account binds one tenant to one provider instance and its credentials.
type Account struct {
	ID       uint         `gorm:"primaryKey"`
	Name     string       `gorm:"uniqueIndex"`
	Provider ProviderKind `gorm:"index"`
	State    ConnectionState

	// Provider credentials, supplied by the operator.
	APIURL string
	APIKey string

	// Technical instance name at the provider, derived from Name.
	InstanceName    string
	InstanceCreated bool
	QRCode          string `gorm:"type:text;comment:Base64 QR for pairing, data-URI prefix stripped"`

	// Inbound webhook credentials, generated at creation.
	WebhookURL    string
	WebhookSecret string `gorm:"index"`
	WebhookUUID   string `gorm:"uniqueIndex"`

	BotEnabled bool
	BotID      *uint
	Bot        *Bot

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is the canonical identity behind a phone-like address.
// At most one contact exists per mobile, system-wide.
type Contact struct {
	ID     uint   `gorm:"primaryKey"`
	Name   string
	Mobile string `gorm:"uniqueIndex"`
	Avatar []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultContactName is the placeholder used when a contact is created
// without a push name. A name equal to it may be overwritten later.
const DefaultContactName = "WhatsApp Contact"

// Stage is a kanban column for conversations.
type Stage struct {
	ID       uint `gorm:"primaryKey"`
	Name     string
	Sequence int
	Folded   bool
}

// Tag labels conversations.
type Tag struct {
	ID    uint   `gorm:"primaryKey"`
	Name  string `gorm:"uniqueIndex"`
	Color int
}

// Conversation is the persistent thread between one contact and one account.
// At most one active conversation exists per (contact, account) pair.
type Conversation struct {
	ID        uint `gorm:"primaryKey"`
	Name      string
	ContactID uint `gorm:"index"`
	Contact   *Contact
	AccountID *uint `gorm:"index"`
	Account   *Account
	StageID   *uint
	Stage     *Stage
	Tags      []Tag `gorm:"many2many:conversation_tags"`
	Avatar    []byte

	// UnreadCount only grows while no operator has joined the thread.
	UnreadCount    int
	OperatorJoined bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageDirection distinguishes inbound from outbound posts.
type MessageDirection string

const (
	DirectionInput  MessageDirection = "input"
	DirectionOutput MessageDirection = "output"
)

// Message is one posted message in a conversation. WAMessageID holds the
// provider's external id and is never duplicated within a conversation.
type Message struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID uint   `gorm:"index"`
	WAMessageID    string `gorm:"index"`
	Direction      MessageDirection
	Body           string `gorm:"type:text"`
	ParentID       *uint
	Parent         *Message
	Attachments    []Attachment

	CreatedAt time.Time
}

// Attachment is decoded media stored with a message.
type Attachment struct {
	ID        uint `gorm:"primaryKey"`
	MessageID uint `gorm:"index"`
	FileName  string
	MimeType  string
	Data      []byte
}

// Reaction is an emoji bound to a message by a contact. Removal deletes
// the row rather than storing an empty emoji.
type Reaction struct {
	ID        uint `gorm:"primaryKey"`
	MessageID uint `gorm:"index"`
	ContactID uint `gorm:"index"`
	Emoji     string
	FromSelf  bool

	CreatedAt time.Time
}

// InitMode controls when a bot session is created for a conversation.
type InitMode string

const (
	InitAuto    InitMode = "auto"
	InitCommand InitMode = "command"
	InitTimeout InitMode = "timeout"
)

// Bot is a scripted automation attached to an account.
type Bot struct {
	ID     uint `gorm:"primaryKey"`
	Name   string
	Active bool `gorm:"default:true"`

	InitMode    InitMode
	InitCommand string

	// Minutes of inactivity before a session expires.
	SessionTimeout        int
	SessionTimeoutMessage string `gorm:"type:text"`

	GreetingEnabled bool
	GreetingMessage string `gorm:"type:text"`

	Steps    []FlowStep `gorm:"foreignKey:BotID"`
	Commands []Command  `gorm:"foreignKey:BotID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepKind is the behavior of one flow node.
type StepKind string

const (
	StepMessage   StepKind = "message"
	StepQuestion  StepKind = "question"
	StepCondition StepKind = "condition"
	StepAction    StepKind = "action"
	StepWait      StepKind = "wait"
)

// ValidationKind is the answer policy for question steps.
type ValidationKind string

const (
	ValidateNone   ValidationKind = "none"
	ValidateText   ValidationKind = "text"
	ValidateNumber ValidationKind = "number"
	ValidateEmail  ValidationKind = "email"
	ValidatePhone  ValidationKind = "phone"
	ValidateCustom ValidationKind = "custom"
)

// ConditionKind selects how a condition step is evaluated.
type ConditionKind string

const (
	ConditionExpr     ConditionKind = "expr"
	ConditionVariable ConditionKind = "variable"
)

// FlowStep is one node of a bot's dialog graph. Links are ids into the
// bot's step table, so cyclic graphs are representable; traversal is
// bounded by the chain executor.
type FlowStep struct {
	ID       uint `gorm:"primaryKey"`
	BotID    uint `gorm:"index"`
	Name     string
	Active   bool `gorm:"default:true"`
	Sequence int
	Kind     StepKind

	// Template for message/question kinds. Supports {var}, {phone} and
	// {contact_name} substitution.
	Message string `gorm:"type:text"`

	// Question settings.
	QuestionVariable       string
	Validation             ValidationKind
	ValidationExpr         string `gorm:"type:text"`
	ValidationErrorMessage string

	// Condition settings.
	Condition         ConditionKind
	ConditionExpr     string `gorm:"type:text"`
	ConditionVariable string
	ConditionOperator string
	ConditionValue    string

	// Action settings.
	ActionExpr string `gorm:"type:text"`

	NextStepID      *uint
	NextStepTrueID  *uint
	NextStepFalseID *uint

	DelaySeconds int
}

// Command is a trigger-token-activated scripted handler, independent of the
// flow graph. The trigger is unique per bot.
type Command struct {
	ID      uint   `gorm:"primaryKey"`
	BotID   uint   `gorm:"index:idx_command_trigger,unique"`
	Trigger string `gorm:"index:idx_command_trigger,unique"`
	Name    string
	Script  string `gorm:"type:text"`
	Active  bool   `gorm:"default:true"`

	ExecutionCount int
	LastExecution  *time.Time
}

// SessionState is the lifecycle of a bot session.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionExpired SessionState = "expired"
	SessionClosed  SessionState = "closed"
)

// BotSession is a bot's time-bounded interaction window with one
// conversation. At most one active session exists per (bot, conversation).
type BotSession struct {
	ID             uint         `gorm:"primaryKey"`
	BotID          uint         `gorm:"index"`
	ConversationID uint         `gorm:"index"`
	ContactID      uint         `gorm:"index"`
	State          SessionState `gorm:"index"`

	StartTime    time.Time
	LastActivity time.Time
	EndTime      *time.Time

	Variables     map[string]interface{} `gorm:"serializer:json"`
	WaitingStepID *uint
	MessageCount  int
}

// GetVariable returns a session variable or the given default.
func (s *BotSession) GetVariable(key string, def interface{}) interface{} {
	if s.Variables == nil {
		return def
	}
	if v, ok := s.Variables[key]; ok {
		return v
	}
	return def
}

// SetVariable stores a session variable.
func (s *BotSession) SetVariable(key string, value interface{}) {
	if s.Variables == nil {
		s.Variables = map[string]interface{}{}
	}
	s.Variables[key] = value
}

// IsExpired reports whether the session outlived the bot's inactivity
// timeout at the given instant. Exactly at the boundary counts as alive,
// consistently for the lazy check and the sweep.
func (s *BotSession) IsExpired(timeoutMinutes int, now time.Time) bool {
	if s.State != SessionActive {
		return true
	}
	if timeoutMinutes <= 0 {
		timeoutMinutes = 30
	}
	return now.After(s.LastActivity.Add(time.Duration(timeoutMinutes) * time.Minute))
}

// MassSendState tracks a bulk campaign.
type MassSendState string

const (
	MassDraft     MassSendState = "draft"
	MassScheduled MassSendState = "scheduled"
	MassSending   MassSendState = "sending"
	MassDone      MassSendState = "done"
	MassError     MassSendState = "error"
)

// MassSend is a bulk outbound campaign to many contacts through one account.
type MassSend struct {
	ID        uint `gorm:"primaryKey"`
	Name      string
	AccountID uint
	Account   *Account
	Contacts  []Contact `gorm:"many2many:mass_send_contacts"`
	Message   string    `gorm:"type:text"`

	// Randomized inter-message delay bounds, in seconds.
	MinDelay int
	MaxDelay int

	State        MassSendState `gorm:"index"`
	CronEnabled  bool
	ScheduledAt  *time.Time
	LastSendDate *time.Time
	ErrorMessage string `gorm:"type:text"`

	Items []SendQueueItem `gorm:"foreignKey:MassSendID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueStatus tracks one recipient within a campaign.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueSending   QueueStatus = "sending"
	QueueSent      QueueStatus = "sent"
	QueueError     QueueStatus = "error"
	QueueCancelled QueueStatus = "cancelled"
)

// SendQueueItem is one pending delivery of a mass send.
type SendQueueItem struct {
	ID         uint `gorm:"primaryKey"`
	MassSendID uint `gorm:"index"`
	ContactID  uint
	Contact    *Contact
	AccountID  uint
	Message    string      `gorm:"type:text"`
	Status     QueueStatus `gorm:"index"`

	Attempts     int
	LastAttempt  *time.Time
	ScheduledAt  *time.Time
	ErrorMessage string `gorm:"type:text"`
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Account{}, &Contact{}, &Stage{}, &Tag{}, &Conversation{},
		&Message{}, &Attachment{}, &Reaction{},
		&Bot{}, &FlowStep{}, &Command{}, &BotSession{},
		&MassSend{}, &SendQueueItem{},
	}
}
