// Package presence owns the away/autoreply sub-state that modifies
// routing semantics (spec.md §4.6): the AWAY flag, the autoreply text, the
// per-away-interval AUTOREPLIED_TO set, and the offline-message append log.
package presence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/roster"
)

// Controller owns every piece of presence state. Its mutex is distinct
// from the Roster's: the two are mutated by different frames and spec.md
// §5 only requires each shared resource to be serialized on its own.
type Controller struct {
	mu            sync.Mutex
	away          bool
	autoReply     string
	autoRepliedTo map[roster.Handle]struct{}

	flagPath string
	logPath  string
	log      *zap.SugaredLogger
}

// New creates a Controller. flagPath is the cross-process away-flag touch
// file (away.flag); logPath is the offline-message append log.
func New(flagPath, logPath, autoReply string, startAway bool, log *zap.SugaredLogger) (*Controller, error) {
	c := &Controller{
		away:          startAway,
		autoReply:     autoReply,
		autoRepliedTo: make(map[roster.Handle]struct{}),
		flagPath:      flagPath,
		logPath:       logPath,
		log:           log,
	}
	if startAway {
		if err := c.touchFlag(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// IsAway reports the in-memory away state set by New, GoOffline and
// GoOnline. It does not read the away-flag file, so a flag file created
// or removed by another process does not change the result.
func (c *Controller) IsAway() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.away
}

// AutoReply returns the currently configured autoreply text.
func (c *Controller) AutoReply() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoReply
}

// SetAutoReply updates the autoreply text sent to new senders while away.
func (c *Controller) SetAutoReply(text string) {
	c.mu.Lock()
	c.autoReply = text
	c.mu.Unlock()
}

// OfflineAction is what the router must additionally do in response to
// an inbound MSG while away: send at most one autoreply per sender per
// away interval.
type OfflineAction struct {
	ShouldAutoReply bool
	AutoReplyText   string
}

// RecordInboundWhileAway appends "sender: text" to the offline-message log
// and reports whether sender has already received an autoreply this away
// interval. Each sender triggers at most one autoreply per interval
// (spec.md §8 invariant).
func (c *Controller) RecordInboundWhileAway(sender roster.Handle, text string) (OfflineAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.appendLogLocked(sender, text); err != nil {
		return OfflineAction{}, err
	}

	if _, already := c.autoRepliedTo[sender]; already {
		return OfflineAction{}, nil
	}
	c.autoRepliedTo[sender] = struct{}{}
	return OfflineAction{ShouldAutoReply: true, AutoReplyText: c.autoReply}, nil
}

func (c *Controller) appendLogLocked(sender roster.Handle, text string) error {
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return errors.Wrap(err, "presence: creating offline log directory")
	}
	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "presence: opening offline log")
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s: %s\n", sender, text)
	return errors.Wrap(err, "presence: appending offline log")
}

// GoOffline sets AWAY=true and creates the away-flag file. It is the core
// reaction to the front-end "offline" command (spec.md §4.6); the caller
// is responsible for broadcasting the autoreply to the current roster,
// since that requires Transport access this package does not have.
func (c *Controller) GoOffline() error {
	c.mu.Lock()
	c.away = true
	c.mu.Unlock()
	return c.touchFlag()
}

// GoOnline sets AWAY=false, clears AUTOREPLIED_TO, removes the away-flag
// file, and returns the drained offline-message log lines (oldest first)
// after deleting the log file. The caller emits the drained lines to the
// front-end and broadcasts "I am back" to the roster.
func (c *Controller) GoOnline() ([]string, error) {
	c.mu.Lock()
	c.away = false
	c.autoRepliedTo = make(map[roster.Handle]struct{})
	c.mu.Unlock()

	if err := os.Remove(c.flagPath); err != nil && !os.IsNotExist(err) {
		c.log.Warnw("could not remove away flag", "error", err)
	}

	lines, err := readLines(c.logPath)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(c.logPath); err != nil && !os.IsNotExist(err) {
		c.log.Warnw("could not remove offline log", "error", err)
	}
	return lines, nil
}

func (c *Controller) touchFlag() error {
	if err := os.MkdirAll(filepath.Dir(c.flagPath), 0o755); err != nil {
		return errors.Wrap(err, "presence: creating away flag directory")
	}
	f, err := os.OpenFile(c.flagPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "presence: creating away flag")
	}
	return f.Close()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "presence: reading offline log")
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, errors.Wrap(scanner.Err(), "presence: scanning offline log")
}
