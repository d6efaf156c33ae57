package masskick

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tg_group_guard_bot/internal/domain"
	"tg_group_guard_bot/internal/logging"
)

const (
	// PageSize is the number of members enumerated per page.
	PageSize = 100
	// KickDuration is how long each kick's temporary ban lasts.
	KickDuration = 60 * time.Second

	// ConfirmPhrase confirms a prompt when sent as a reply to it.
	ConfirmPhrase = "yes i am sure"

	PromptText  = "Are you sure you want to kick ALL members?\nReply with: 'Yes I am sure' or press the button below"
	warningText = "Mass kick initiated! Non-admin members will be removed."
	cancelText  = "Kickall cancelled"

	defaultDelay    = 300 * time.Millisecond
	defaultTTL      = 10 * time.Minute
	defaultCapacity = 1024
)

// Platform is the set of chat calls the orchestrator makes.
type Platform interface {
	// SendConfirmation posts text with accept and cancel buttons and returns
	// the message id.
	SendConfirmation(ctx context.Context, chatID int64, text string) (int, error)
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	UnpinMessage(ctx context.Context, chatID int64, messageID int) error
	GetAdministrators(ctx context.Context, chatID int64) ([]domain.Member, error)
	BanMember(ctx context.Context, chatID, userID int64, until time.Time) error
}

// MemberPager enumerates group members.
type MemberPager interface {
	Page(ctx context.Context, chatID int64, offset, limit int) ([]domain.Member, error)
}

// MemberCounter reports the cached member count of a group.
type MemberCounter interface {
	MemberCount(ctx context.Context, chatID int64) (int, error)
}

// AdminChecker authorizes requests and confirmations.
type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) bool
}

// Options tunes the orchestrator. Zero values select defaults.
type Options struct {
	// Delay is the minimum gap between two kicks.
	Delay time.Duration
	// TTL is how long a prompt stays confirmable.
	TTL time.Duration
	// Capacity bounds the number of pending prompts.
	Capacity int
}

// Orchestrator owns pending confirmations and runs sweeps.
type Orchestrator struct {
	platform Platform
	pager    MemberPager
	counter  MemberCounter
	admins   AdminChecker
	delay    time.Duration
	now      func() time.Time
	logger   *logrus.Entry

	mu       sync.Mutex
	sessions *expirable.LRU[Key, *Session]
	running  map[int64]*Session
	wg       sync.WaitGroup
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(platform Platform, pager MemberPager, counter MemberCounter, admins AdminChecker, opts Options, logger *logrus.Entry) *Orchestrator {
	if logger == nil {
		logger = logging.Logger()
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultDelay
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}

	o := &Orchestrator{
		platform: platform,
		pager:    pager,
		counter:  counter,
		admins:   admins,
		delay:    opts.Delay,
		now:      time.Now,
		logger:   logger,
		running:  make(map[int64]*Session),
	}
	o.sessions = expirable.NewLRU[Key, *Session](opts.Capacity, o.onEvict, opts.TTL)

	return o
}

// Request posts a confirmation prompt and records a pending session for it.
// Nothing is kicked until the session is confirmed.
func (o *Orchestrator) Request(ctx context.Context, chatID, adminID int64) (Key, error) {
	if err := o.validate(ctx); err != nil {
		return Key{}, err
	}
	if !o.admins.IsAdmin(ctx, chatID, adminID) {
		return Key{}, domain.ErrNotAdmin
	}

	promptID, err := o.platform.SendConfirmation(ctx, chatID, PromptText)
	if err != nil {
		return Key{}, domain.WrapPlatform("send_confirmation", err)
	}

	key := Key{ChatID: chatID, AdminID: adminID, PromptID: promptID}
	o.mu.Lock()
	o.sessions.Add(key, &Session{Key: key, State: StateAwaiting, CreatedAt: o.now()})
	o.mu.Unlock()

	o.logger.WithFields(logging.Fields{
		"event":     "masskick_requested",
		"chat_id":   chatID,
		"user_id":   adminID,
		"prompt_id": promptID,
	}).Info("kickall confirmation requested")

	return key, nil
}

// Confirm moves the pending session for key to RUNNING and starts the sweep in
// the background. The sweep stops early when ctx is cancelled.
func (o *Orchestrator) Confirm(ctx context.Context, key Key) error {
	if err := o.validate(ctx); err != nil {
		return err
	}
	if !o.admins.IsAdmin(ctx, key.ChatID, key.AdminID) {
		return domain.ErrNotAdmin
	}

	o.mu.Lock()
	session, ok := o.sessions.Peek(key)
	if !ok || session.State != StateAwaiting {
		err := o.missingSession(key)
		o.mu.Unlock()
		return err
	}
	if _, busy := o.running[key.ChatID]; busy {
		o.mu.Unlock()
		return ErrSweepRunning
	}
	session.State = StateRunning
	o.running[key.ChatID] = session
	o.sessions.Remove(key)
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.WithFields(logging.Fields{
		"event":     "masskick_confirmed",
		"chat_id":   key.ChatID,
		"user_id":   key.AdminID,
		"prompt_id": key.PromptID,
	}).Warn("kickall confirmed, starting sweep")

	go func() {
		defer o.wg.Done()
		o.execute(ctx, session)
	}()

	return nil
}

// ConfirmByReply confirms when text is a reply by the requesting admin to a
// pending prompt and contains ConfirmPhrase. It reports whether the message
// was a confirmation.
func (o *Orchestrator) ConfirmByReply(ctx context.Context, chatID, userID int64, replyToID int, text string) (bool, error) {
	if o == nil || replyToID == 0 || !strings.Contains(strings.ToLower(text), ConfirmPhrase) {
		return false, nil
	}

	key := Key{ChatID: chatID, AdminID: userID, PromptID: replyToID}
	if _, ok := o.Session(key); !ok {
		return false, nil
	}

	return true, o.Confirm(ctx, key)
}

// Cancel ends a pending session without side effects and marks the prompt as
// cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, key Key) error {
	if err := o.validate(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	session, ok := o.sessions.Peek(key)
	if !ok || session.State != StateAwaiting {
		err := o.missingSession(key)
		o.mu.Unlock()
		return err
	}
	session.State = StateDone
	o.sessions.Remove(key)
	o.mu.Unlock()

	if err := o.platform.EditMessage(ctx, key.ChatID, key.PromptID, cancelText); err != nil {
		o.logger.WithFields(logging.Fields{
			"event":   "masskick_cancel_edit_error",
			"chat_id": key.ChatID,
		}).WithError(err).Warn("failed to mark prompt cancelled")
	}

	o.logger.WithFields(logging.Fields{
		"event":     "masskick_cancelled",
		"chat_id":   key.ChatID,
		"user_id":   key.AdminID,
		"prompt_id": key.PromptID,
	}).Info("kickall cancelled")

	return nil
}

// missingSession explains why key has no pending session. Callers hold o.mu.
func (o *Orchestrator) missingSession(key Key) error {
	for _, pending := range o.sessions.Keys() {
		if pending.ChatID == key.ChatID && pending.PromptID == key.PromptID && pending.AdminID != key.AdminID {
			return ErrNotRequester
		}
	}
	return ErrNoSession
}

// Session returns a copy of the pending session for key.
func (o *Orchestrator) Session(key Key) (Session, bool) {
	if o == nil {
		return Session{}, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	session, ok := o.sessions.Peek(key)
	if !ok || session.State != StateAwaiting {
		return Session{}, false
	}
	return *session, true
}

// Running reports whether a sweep is in flight for chatID.
func (o *Orchestrator) Running(chatID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, ok := o.running[chatID]
	return ok
}

// ActiveSweeps is the number of groups with a sweep in flight.
func (o *Orchestrator) ActiveSweeps() int {
	if o == nil {
		return 0
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.running)
}

// Wait blocks until every started sweep has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, session *Session) {
	chatID := session.Key.ChatID
	logger := logging.Scoped(o.logger, logging.Scope{
		ChatID:  chatID,
		UserID:  session.Key.AdminID,
		Command: "kickall",
	})

	defer func() {
		o.mu.Lock()
		session.State = StateDone
		delete(o.running, chatID)
		o.mu.Unlock()
	}()

	warningID, err := o.platform.SendMessage(ctx, chatID, warningText)
	if err != nil {
		sweepsTotal.WithLabelValues("failed").Inc()
		logger.WithField("event", "masskick_warning_error").WithError(err).Error("failed to announce sweep, aborting")
		return
	}

	targets, err := o.collectTargets(ctx, chatID)
	if err != nil {
		sweepsTotal.WithLabelValues("failed").Inc()
		logger.WithField("event", "masskick_enumeration_error").WithError(err).Error("failed to enumerate members, aborting")
		o.finish(ctx, chatID, warningID, "Mass kick failed: "+err.Error())
		return
	}

	limiter := rate.NewLimiter(rate.Every(o.delay), 1)
	for _, member := range targets {
		if err := limiter.Wait(ctx); err != nil {
			logger.WithFields(logging.Fields{
				"event":  "masskick_interrupted",
				"kicked": session.Kicked,
			}).WithError(err).Warn("sweep interrupted")
			sweepsTotal.WithLabelValues("interrupted").Inc()
			return
		}

		if err := o.platform.BanMember(ctx, chatID, member.UserID, o.now().Add(KickDuration)); err != nil {
			session.Failed++
			failuresTotal.Inc()
			logging.Scoped(logger, logging.Scope{
				TargetID: member.UserID,
				Event:    "masskick_kick_failed",
			}).WithError(err).Warn("failed to kick member")
			continue
		}

		session.Kicked++
		kickedTotal.Inc()
	}

	sweepsTotal.WithLabelValues("completed").Inc()
	logger.WithFields(logging.Fields{
		"event":  "masskick_completed",
		"kicked": session.Kicked,
		"failed": session.Failed,
	}).Warn("kickall sweep completed")

	o.finish(ctx, chatID, warningID, fmt.Sprintf("Successfully kicked %d members", session.Kicked))
}

// collectTargets loads the administrator list once, then pages through the
// membership until the cached member count is covered. Administrators, the
// owner and bots are left out.
func (o *Orchestrator) collectTargets(ctx context.Context, chatID int64) ([]domain.Member, error) {
	admins, err := o.platform.GetAdministrators(ctx, chatID)
	if err != nil {
		return nil, domain.WrapPlatform("get_administrators", err)
	}
	exempt := make(map[int64]struct{}, len(admins))
	for _, admin := range admins {
		exempt[admin.UserID] = struct{}{}
	}

	total, err := o.counter.MemberCount(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("member count: %w", err)
	}

	targets := make([]domain.Member, 0, total)
	for offset := 0; offset < total; offset += PageSize {
		page, err := o.pager.Page(ctx, chatID, offset, PageSize)
		if err != nil {
			return nil, fmt.Errorf("list members at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}

		for _, member := range page {
			if _, ok := exempt[member.UserID]; ok || member.IsBot || member.Status.IsAdmin() {
				continue
			}
			targets = append(targets, member)
		}
	}

	return targets, nil
}

func (o *Orchestrator) finish(ctx context.Context, chatID int64, warningID int, text string) {
	if err := o.platform.EditMessage(ctx, chatID, warningID, text); err != nil {
		o.logger.WithFields(logging.Fields{
			"event":   "masskick_report_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to report sweep result")
	}

	_ = o.platform.UnpinMessage(ctx, chatID, warningID)
}

// onEvict runs on expiry as well as on Confirm and Cancel. Expired sessions
// simply become unreachable, which counts as cancellation.
func (o *Orchestrator) onEvict(key Key, _ *Session) {
	o.logger.WithFields(logging.Fields{
		"event":     "masskick_session_closed",
		"chat_id":   key.ChatID,
		"user_id":   key.AdminID,
		"prompt_id": key.PromptID,
	}).Debug("kickall confirmation closed")
}

func (o *Orchestrator) validate(ctx context.Context) error {
	if o == nil || o.platform == nil || o.pager == nil || o.counter == nil || o.admins == nil {
		return errors.New("masskick orchestrator is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
