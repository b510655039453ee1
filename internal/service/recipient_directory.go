package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-leave-api/internal/models"
	"github.com/noah-isme/campus-leave-api/pkg/cache"
)

type roleMailboxLister interface {
	ListEmailsByRole(ctx context.Context, role models.UserRole) ([]string, error)
}

// RecipientDirectory resolves who is emailed when a request reaches an approval level.
// A configured shared mailbox wins; otherwise every active account holding the role is used.
type RecipientDirectory struct {
	static map[models.UserRole]string
	users  roleMailboxLister
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewRecipientDirectory constructs a directory. users and cache may be nil.
func NewRecipientDirectory(static map[models.UserRole]string, users roleMailboxLister, cache *CacheService, ttl time.Duration, logger *zap.Logger) *RecipientDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RecipientDirectory{static: static, users: users, cache: cache, ttl: ttl, logger: logger}
}

// Lookup returns the mailboxes for role. Lookup failures yield no recipients.
func (d *RecipientDirectory) Lookup(ctx context.Context, role models.UserRole) []string {
	if d == nil {
		return nil
	}
	if mailbox := strings.TrimSpace(d.static[role]); mailbox != "" {
		return []string{mailbox}
	}
	if d.users == nil {
		return nil
	}

	key := cache.RoleRecipientsKey(string(role))
	var cached []string
	if hit, _ := d.cache.Get(ctx, key, &cached); hit {
		return cached
	}
	emails, err := d.users.ListEmailsByRole(ctx, role)
	if err != nil {
		d.logger.Warn("approver mailboxes unavailable", zap.String("role", string(role)), zap.Error(err))
		return nil
	}
	_ = d.cache.Set(ctx, key, emails, d.ttl)
	return emails
}

// notifyRole sends one message per mailbox of role. With none, the miss is still reported
// through the dispatcher so it is logged and counted.
func notifyRole(ctx context.Context, dispatcher notifier, dir *RecipientDirectory, role models.UserRole, kind NotificationTemplate, data NotificationData) {
	recipients := dir.Lookup(ctx, role)
	if len(recipients) == 0 {
		dispatcher.Send(ctx, "", kind, data)
		return
	}
	for _, recipient := range recipients {
		dispatcher.Send(ctx, recipient, kind, data)
	}
}
