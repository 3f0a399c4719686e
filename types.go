package authcore

import (
	"context"
	"io"

	"github.com/veldtlabs/authcore/internal/audit"
)

// UserRecord is the engine's view of an account row. The backing store owns
// everything else about the user.
type UserRecord struct {
	UserID        string
	Email         string
	PasswordHash  string
	Name          string
	BirthYear     int
	Gender        string
	EmailVerified bool
	CreatedAt     int64
}

// UserStore is the persistence boundary the host application implements.
// Lookup methods return ErrUserNotFound for missing rows; CreateUser returns
// ErrDuplicateEmail when the email is taken.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (*UserRecord, error)
	CreateUser(ctx context.Context, user *UserRecord) error
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, userID string) error
}

// Mailer delivers the out-of-band tokens. Implementations receive the raw
// token; only its hash is ever stored.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
	SendVerification(ctx context.Context, email, token string) error
}

// Credentials is the full bundle a successful login, registration, or
// refresh hands back.
type Credentials struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	CSRFToken    string
}

// RegisterRequest carries the fields accepted at account creation.
type RegisterRequest struct {
	Email     string
	Password  string
	Name      string
	BirthYear int
	Gender    string
}

// AuditEvent is re-exported so host applications can implement sinks
// without importing the internal package.
type AuditEvent = audit.Event

// AuditEventType names one of the closed set of events the engine emits.
// The set lives in the audit package; sinks can compare the field against
// string literals or call Known to filter out foreign values.
type AuditEventType = audit.EventType

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// NewChannelSink returns a sink buffering events in a channel the host can
// drain at its own pace.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON event per line.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
