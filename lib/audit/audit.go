// Package audit keeps the trail of user actions and operational errors in the audit webhook.
package audit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tarancss/stakewatch/lib/notify"
)

// Auditor sends audit entries to a sink. Delivery failures are only logged.
type Auditor struct {
	sink  notify.Sink
	admin string
	log   *logrus.Entry
}

// New returns an Auditor. sink may be nil, then entries are only logged. Actions by the admin user are not audited.
func New(sink notify.Sink, admin string, log *logrus.Entry) *Auditor {
	return &Auditor{sink: sink, admin: admin, log: log}
}

// IsAdmin tells if userID is the configured admin.
func (a *Auditor) IsAdmin(userID string) bool {
	return a.admin != "" && userID == a.admin
}

// Action records that username performed action.
func (a *Auditor) Action(ctx context.Context, userID, username, action string) {
	if a.IsAdmin(userID) {
		return
	}

	a.send(ctx, fmt.Sprintf("User `%s` performed action: %s", username, action))
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying the user on whose behalf the work is done.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// Actor returns the user set by WithActor, if any.
func Actor(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)

	return id
}

// Report records an operational error. Errors raised while serving the admin are only logged.
func (a *Auditor) Report(ctx context.Context, msg string) {
	content := "🚨 **Error**: " + msg

	if a.IsAdmin(Actor(ctx)) {
		a.log.WithField("actor", "admin").Warn(content)

		return
	}

	a.send(ctx, content)
}

func (a *Auditor) send(ctx context.Context, content string) {
	a.log.Info(content)

	if a.sink == nil {
		return
	}

	if err := a.sink.Deliver(ctx, "", content); err != nil {
		a.log.WithError(err).Warn("failed to send audit entry")
	}
}
